package observability

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	EnableMetrics    bool   `json:"enableMetrics" yaml:"enableMetrics"`
	MetricsNamespace string `json:"metricsNamespace,omitempty" yaml:"metricsNamespace,omitempty"`
	EnablePprof      bool   `json:"enablePprof" yaml:"enablePprof"`
}

// DefaultConfig exposes /metrics and keeps pprof off.
func DefaultConfig() Config {
	return Config{
		EnableMetrics:    true,
		MetricsNamespace: "citynav",
	}
}
