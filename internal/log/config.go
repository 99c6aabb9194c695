package log

// LoggerConfig configures the global logger.
type LoggerConfig struct {
	Level   string          `mapstructure:"level"`
	Format  string          `mapstructure:"format"` // pattern | json
	Pattern string          `mapstructure:"pattern"`
	Time    string          `mapstructure:"time"`
	Caller  bool            `mapstructure:"caller"`
	File    FileAppenderOpt `mapstructure:"file"`
}

const (
	DefaultPattern    = "%time [%level] %caller: %msg %field%n"
	DefaultTimeLayout = "2006-01-02 15:04:05.000"
)

// DefaultConfig logs at info level to stdout only.
func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:   "info",
		Format:  "pattern",
		Pattern: DefaultPattern,
		Time:    DefaultTimeLayout,
	}
}
