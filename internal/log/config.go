package log

import (
	"io"
	"os"
)

const (
	defaultPattern = "%time [%level] %field %msg\n"
	defaultTime    = "2006-01-02 15:04:05.000"
)

// Config is the log section of the sensor configuration.
type Config struct {
	Level   string          `mapstructure:"level" yaml:"level"`
	Pattern string          `mapstructure:"pattern" yaml:"pattern"`
	Time    string          `mapstructure:"time" yaml:"time"`
	File    FileAppenderOpt `mapstructure:"file" yaml:"file"`

	// Output replaces stdout; tests capture log lines through it.
	Output io.Writer `mapstructure:"-" yaml:"-"`
}

func (c *Config) applyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Pattern == "" {
		c.Pattern = defaultPattern
	}
	if c.Time == "" {
		c.Time = defaultTime
	}
}

func (c *Config) stdout() io.Writer {
	if c.Output != nil {
		return c.Output
	}
	return os.Stdout
}
