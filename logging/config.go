package logging

import "time"

const (
	SinkConsole = "console"
	SinkJSON    = "json"
	SinkMemory  = "memory"
)

// Config controls the event router.
type Config struct {
	EnabledSinks    []string       `json:"enabledSinks" yaml:"enabledSinks"`
	BufferSize      int            `json:"bufferSize" yaml:"bufferSize"`
	MinimumSeverity Severity       `json:"minimumSeverity" yaml:"minimumSeverity"`
	Fields          map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	JSON            JSONConfig     `json:"json" yaml:"json"`
	// MemoryCapacity bounds the memory sink to the most recent events. Zero
	// keeps everything.
	MemoryCapacity int `json:"memoryCapacity,omitempty" yaml:"memoryCapacity,omitempty"`

	// SinkSeverity raises the floor for individual sinks above
	// MinimumSeverity, keyed by sink name.
	SinkSeverity map[string]Severity `json:"-" yaml:"-"`
	// Throttle forwards at most one event of a type per interval. The next
	// event that gets through carries the number suppressed in between under
	// Extra["suppressed"].
	Throttle map[EventType]time.Duration `json:"-" yaml:"-"`
	// OnDrop is called for every event the router sheds because its queue is
	// full. It runs on the publishing goroutine.
	OnDrop func(EventType) `json:"-" yaml:"-"`

	DropWarnInterval time.Duration `json:"-" yaml:"-"`
}

type JSONConfig struct {
	FilePath      string        `json:"filePath,omitempty" yaml:"filePath,omitempty"`
	FlushInterval time.Duration `json:"-" yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{SinkConsole},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		MemoryCapacity:   256,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			FlushInterval: 2 * time.Second,
		},
	}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if s == name {
			return true
		}
	}
	return false
}

// SeverityFor reports the effective floor for the named sink.
func (c Config) SeverityFor(sink string) Severity {
	if floor, ok := c.SinkSeverity[sink]; ok && floor > c.MinimumSeverity {
		return floor
	}
	return c.MinimumSeverity
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}

func (c Config) cloneThrottle() map[EventType]time.Duration {
	throttle := make(map[EventType]time.Duration, len(c.Throttle))
	for eventType, interval := range c.Throttle {
		if interval > 0 {
			throttle[eventType] = interval
		}
	}
	return throttle
}
