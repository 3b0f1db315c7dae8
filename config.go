package actflow

import (
	"fmt"
	"time"

	"github.com/actflow/actflow/runtime/dispatcher"
	"github.com/actflow/actflow/service/channel"
)

// Config is a serialisable representation of the engine configuration. The
// zero value is useful — every nested field falls back to its package
// default (§6 Configuration).
type Config struct {
	Dispatcher DispatcherConfig `json:"dispatcher" yaml:"dispatcher"`
	Channel    ChannelConfig    `json:"channel" yaml:"channel"`
	Store      StoreConfig      `json:"store" yaml:"store"`
}

// DispatcherConfig mirrors runtime/dispatcher.Config for serialisation.
type DispatcherConfig struct {
	Concurrency int           `json:"concurrency" yaml:"concurrency"`
	CancelGrace time.Duration `json:"cancelGrace" yaml:"cancelGrace"`
}

// ChannelConfig mirrors service/channel.Config for serialisation.
type ChannelConfig struct {
	QueueSize int `json:"queueSize" yaml:"queueSize"`
}

// StoreConfig selects and configures the Process/Workflow DAO backends
// (§6): "memory" (default), "fs" (basePath required), or "postgres"
// (databaseURL required).
type StoreConfig struct {
	Type        string `json:"type" yaml:"type"`
	BasePath    string `json:"basePath,omitempty" yaml:"basePath,omitempty"`
	DatabaseURL string `json:"databaseUrl,omitempty" yaml:"databaseUrl,omitempty"`
}

// DefaultConfig returns a Config populated with the default settings.
func DefaultConfig() *Config {
	return &Config{
		Dispatcher: DispatcherConfig{
			Concurrency: dispatcher.DefaultConcurrency,
			CancelGrace: dispatcher.DefaultCancelGrace,
		},
		Channel: ChannelConfig{QueueSize: channel.DefaultConfig().QueueSize},
		Store:   StoreConfig{Type: "memory"},
	}
}

// Validate returns an error describing the first invalid setting found, or
// nil; later settings are not checked once one fails.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Dispatcher.Concurrency < 0 {
		return fmt.Errorf("dispatcher.concurrency must be >= 0")
	}
	switch c.Store.Type {
	case "", "memory":
	case "fs":
		if c.Store.BasePath == "" {
			return fmt.Errorf("store.basePath is required for store.type=fs")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.databaseUrl is required for store.type=postgres")
		}
	default:
		return fmt.Errorf("store.type %q is not recognised", c.Store.Type)
	}
	return nil
}

func (c DispatcherConfig) toDispatcher() dispatcher.Config {
	cfg := dispatcher.DefaultConfig()
	if c.Concurrency > 0 {
		cfg.Concurrency = c.Concurrency
	}
	if c.CancelGrace > 0 {
		cfg.CancelGrace = c.CancelGrace
	}
	return cfg
}
