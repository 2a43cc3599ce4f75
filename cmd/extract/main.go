// Command extract runs the main-content extraction pipeline from the command line.
package main

func main() {
	Execute()
}
