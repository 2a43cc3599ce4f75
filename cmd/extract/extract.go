package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"extract-main-content/internal/dom"
	"extract-main-content/internal/models"
	"extract-main-content/internal/pipeline"
	"extract-main-content/internal/scraper"

	"github.com/spf13/cobra"
)

// Extraction flag variables, shared by url and file.
var (
	flagTimeout   time.Duration
	flagMinLength int
	flagMethod    string
	flagSkipSite  bool
	flagRender    bool
	flagMarkdown  bool
	flagLanguage  bool
	flagJSON      bool
	flagPageURL   string
)

var urlCmd = &cobra.Command{
	Use:   "url <url>",
	Short: "Fetch a page and extract its main content",
	Long: `url fetches the page over HTTP and extracts its main content. Pages that are
only an application shell are rendered in headless Chrome first; --render skips
the HTTP attempt.

Examples:
  extract url https://go.dev/blog/go1.22
  extract url https://app.example.com/post/1 --render --json
  extract url https://example.com/article --markdown --min-length 400`,
	Args: cobra.ExactArgs(1),
	RunE: runURL,
}

var fileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Extract the main content of a saved HTML file",
	Long: `file extracts the main content of an HTML document on disk ("-" reads stdin).
Pass the page's original address with --url so site-specific extractors and
relative links resolve.

Examples:
  extract file saved.html --url https://github.com/acme/widget
  curl -s https://example.com/post | extract file - --json`,
	Args: cobra.ExactArgs(1),
	RunE: runFile,
}

func init() {
	for _, cmd := range []*cobra.Command{urlCmd, fileCmd} {
		cmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "Pipeline timeout (default from config, 30s)")
		cmd.Flags().IntVar(&flagMinLength, "min-length", 0, "Minimum content length in characters (default 800)")
		cmd.Flags().StringVar(&flagMethod, "method", "", "Preferred method: site-specific, readability, heuristic or manual")
		cmd.Flags().BoolVar(&flagSkipSite, "skip-site-specific", false, "Do not try site-specific extractors")
		cmd.Flags().BoolVar(&flagMarkdown, "markdown", false, "Print the content as Markdown")
		cmd.Flags().BoolVar(&flagLanguage, "language", false, "Detect the content language")
		cmd.Flags().BoolVar(&flagJSON, "json", false, "Print the full pipeline result as JSON")
		rootCmd.AddCommand(cmd)
	}
	urlCmd.Flags().BoolVar(&flagRender, "render", false, "Render in headless Chrome instead of fetching")
	fileCmd.Flags().StringVar(&flagPageURL, "url", "", "Original URL of the saved page")
}

func runURL(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	loader := scraper.NewLoader(rt.cfg.Scrape, rt.logger)
	loaded, err := loader.Load(ctx, args[0], flagRender)
	if err != nil {
		return fmt.Errorf("loading %s: %w", args[0], err)
	}
	defer loaded.Close()

	return extract(ctx, cmd.OutOrStdout(), rt, loaded.Doc, args[0])
}

func runFile(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	var r io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	doc, err := dom.Load(r, "", flagPageURL)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	return extract(cmd.Context(), cmd.OutOrStdout(), rt, doc, flagPageURL)
}

// extractOptions overlays the command line on the configured defaults
func extractOptions(defaults models.PipelineOptions) (models.PipelineOptions, error) {
	req := &models.RequestOptions{
		MinimumContentLength: flagMinLength,
		PreferredMethod:      models.Method(flagMethod),
		SkipSiteSpecific:     flagSkipSite,
		IncludeMarkdown:      flagMarkdown,
		DetectLanguage:       flagLanguage,
	}
	if flagMethod != "" && !req.PreferredMethod.Valid() {
		return defaults, fmt.Errorf("unknown method %q", flagMethod)
	}
	if flagTimeout < 0 || flagMinLength < 0 {
		return defaults, fmt.Errorf("--timeout and --min-length must not be negative")
	}
	req.TimeoutMs = int(flagTimeout.Milliseconds())
	return defaults.Merge(req), nil
}

func extract(ctx context.Context, w io.Writer, rt *runtime, doc *dom.Document, rawURL string) error {
	opts, err := extractOptions(rt.cfg.PipelineOptions())
	if err != nil {
		return err
	}

	popts := []pipeline.Option{pipeline.FromConfig(rt.cfg)}
	if rt.store != nil {
		popts = append(popts, pipeline.WithHistory(rt.store))
	}
	p := pipeline.New(rt.logger, popts...)

	result := p.Extract(ctx, doc, rawURL, opts)
	if err := printResult(w, result, flagJSON, flagMarkdown); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("extraction failed: %s", result.Error)
	}
	return nil
}

// printResult writes the JSON result, or the title and content for humans
func printResult(w io.Writer, r models.PipelineResult, asJSON, markdown bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	if !r.Success {
		if r.RequiresManualSelection {
			fmt.Fprintln(w, "No automated method found enough content; manual selection is required.")
		}
		if r.Suggestion != "" {
			fmt.Fprintf(w, "Suggestion: %s\n", r.Suggestion)
		}
		return nil
	}

	if r.Content.Title != "" {
		fmt.Fprintf(w, "# %s\n\n", r.Content.Title)
	}
	body := r.Content.Text
	if markdown && r.Content.Markdown != "" {
		body = r.Content.Markdown
	}
	fmt.Fprintln(w, body)
	fmt.Fprintf(w, "\n-- %s, %d characters, %s\n", r.Method, r.TextLength(), r.Metrics.ExtractionTime.Round(time.Millisecond))
	return nil
}
