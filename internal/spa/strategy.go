package spa

import "time"

// WaitStrategy is how long to wait for a framework to render
type WaitStrategy struct {
	InitialWait   time.Duration
	CheckInterval time.Duration
	StableTime    time.Duration
	MaxWait       time.Duration
}

var defaultStrategies = map[string]WaitStrategy{
	FrameworkReact:     {InitialWait: 300 * time.Millisecond, CheckInterval: 100 * time.Millisecond, StableTime: 500 * time.Millisecond, MaxWait: 8 * time.Second},
	FrameworkNext:      {InitialWait: 200 * time.Millisecond, CheckInterval: 100 * time.Millisecond, StableTime: 400 * time.Millisecond, MaxWait: 6 * time.Second},
	FrameworkVue:       {InitialWait: 300 * time.Millisecond, CheckInterval: 100 * time.Millisecond, StableTime: 500 * time.Millisecond, MaxWait: 8 * time.Second},
	FrameworkNuxt:      {InitialWait: 200 * time.Millisecond, CheckInterval: 100 * time.Millisecond, StableTime: 400 * time.Millisecond, MaxWait: 6 * time.Second},
	FrameworkAngular:   {InitialWait: 500 * time.Millisecond, CheckInterval: 150 * time.Millisecond, StableTime: 800 * time.Millisecond, MaxWait: 10 * time.Second},
	FrameworkSvelte:    {InitialWait: 150 * time.Millisecond, CheckInterval: 100 * time.Millisecond, StableTime: 300 * time.Millisecond, MaxWait: 5 * time.Second},
	FrameworkSvelteKit: {InitialWait: 150 * time.Millisecond, CheckInterval: 100 * time.Millisecond, StableTime: 300 * time.Millisecond, MaxWait: 5 * time.Second},
	FrameworkGatsby:    {InitialWait: 200 * time.Millisecond, CheckInterval: 100 * time.Millisecond, StableTime: 400 * time.Millisecond, MaxWait: 6 * time.Second},
	FrameworkEmber:     {InitialWait: 500 * time.Millisecond, CheckInterval: 150 * time.Millisecond, StableTime: 800 * time.Millisecond, MaxWait: 10 * time.Second},
	"":                 {InitialWait: time.Second, CheckInterval: 200 * time.Millisecond, StableTime: time.Second, MaxWait: 12 * time.Second},
}

// GetOptimizedWaitStrategy returns the wait profile for a framework. Unknown
// names (including "unknown") get the conservative default.
func (d *Detector) GetOptimizedWaitStrategy(framework string) WaitStrategy {
	if s, ok := d.strategies[framework]; ok {
		return s
	}
	return d.strategies[""]
}

// GetRecommendedTimeout scales the framework's MaxWait for large documents
func (d *Detector) GetRecommendedTimeout(framework string, nodeCount int) time.Duration {
	base := d.GetOptimizedWaitStrategy(framework).MaxWait
	switch {
	case nodeCount > 10000:
		return base * 2
	case nodeCount > 5000:
		return base * 3 / 2
	default:
		return base
	}
}
