package configs

import (
	"os"
	"strings"

	"github.com/Lvzhenqian/console/errors"
	"github.com/Lvzhenqian/console/log"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// LogConfig is the on-disk channel selection, for example:
//
//	channels: [connect, ssh]
//	console: warn
type LogConfig struct {
	// Channels are enabled, every other known channel is disabled.
	// "*" or "all" enables every channel.
	Channels []string `yaml:"channels"`
	// Console is the level of the console sink, empty keeps it.
	Console string `yaml:"console"`
}

// Selection renders the channel list the way LogOptions expects it.
func (c LogConfig) Selection() string {
	return strings.Join(c.Channels, ",")
}

// LogFile reads a LogConfig from a YAML file.
type LogFile string

func (f LogFile) FilePath() string {
	return string(f)
}

func (f LogFile) ReadConfig() (LogConfig, error) {
	var conf LogConfig
	content, err := os.ReadFile(string(f))
	if err != nil {
		return conf, err
	}
	if err := yaml.Unmarshal(content, &conf); err != nil {
		return conf, errors.Wrapf(err, "parse %s", f)
	}
	if conf.Console != "" {
		if _, err := zerolog.ParseLevel(conf.Console); err != nil {
			return conf, errors.Wrapf(err, "%s: console level", f)
		}
	}
	return conf, nil
}

// LogModule applies every reloaded LogConfig to a registry.
type LogModule struct {
	Registry *log.Registry
	Owner    *log.Logger
	// Applied is called after each config took effect, may be nil.
	Applied func(LogConfig)
}

func (m *LogModule) Name() string {
	return "log"
}

func (m *LogModule) Watch(update <-chan LogConfig) {
	for conf := range update {
		if err := m.Apply(conf); err != nil && m.Owner != nil {
			m.Owner.WithError(err, "log config rejected")
		}
		if m.Applied != nil {
			m.Applied(conf)
		}
	}
}

func (m *LogModule) Apply(conf LogConfig) error {
	if conf.Console != "" {
		level, err := zerolog.ParseLevel(conf.Console)
		if err != nil {
			return err
		}
		m.Registry.SetConsoleLevel(level)
	}
	m.Registry.LogOptions(conf.Selection(), false, m.Owner)
	return nil
}
