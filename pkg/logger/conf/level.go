package conf

// Level mirrors logrus' severity ordering so the wrapper package never
// has to import logrus directly outside of pkg/logger/logrus.
type Level uint32

const (
	FatalLevel Level = iota
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

// LogConfig configures the global logger. Core picks the backend
// implementation (only logrus is wired today); Formatter and Level
// control output shape and verbosity.
type LogConfig struct {
	Core      Core      `yaml:"core" json:"core"`
	Level     Level     `yaml:"level" json:"level"`
	Formatter Formatter `yaml:"formatter" json:"formatter"`
	// OutputPath, when non-empty, routes output through a rotating
	// file sink instead of stderr.
	OutputPath string `yaml:"outputPath" json:"outputPath"`
	MaxSizeMB  int    `yaml:"maxSizeMB" json:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays" json:"maxAgeDays"`
}

// DefaultConfig returns the configuration used when no explicit
// LogConfig is supplied to InitGlobalLogger.
func DefaultConfig() *LogConfig {
	return &LogConfig{
		Core:      LogrusCore,
		Level:     InfoLevel,
		Formatter: JSONFormater,
	}
}
