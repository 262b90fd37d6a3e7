package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/supervisr/internal/history"
	"github.com/loykin/supervisr/internal/logger"
	"github.com/loykin/supervisr/internal/runnable"
	"github.com/loykin/supervisr/internal/supervisor"
)

// Config is the root of a supervision tree definition loaded from a TOML
// (or YAML/JSON) file.
type Config struct {
	Log     *logger.Config `mapstructure:"log"`
	Metrics *MetricsConfig `mapstructure:"metrics"`
	Server  *ServerConfig  `mapstructure:"server"`
	History *HistoryConfig `mapstructure:"history"`
	Root    *TreeConfig    `mapstructure:"supervisor"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// TreeConfig describes one supervisor and its members. Members of type
// "supervisor" recurse.
type TreeConfig struct {
	Name            string         `mapstructure:"name"`
	Strategy        string         `mapstructure:"strategy"`
	MonitorInterval time.Duration  `mapstructure:"monitor_interval"`
	MaxRestarts     *int           `mapstructure:"max_restarts"`
	Window          *time.Duration `mapstructure:"window"`
	Workers         []MemberConfig `mapstructure:"workers"`
}

// MemberConfig is a discriminated union entry: a command worker or a nested
// supervisor.
type MemberConfig struct {
	Type    string         `mapstructure:"type"`    // command (default), supervisor
	Restart string         `mapstructure:"restart"` // permanent (default), temporary, transient
	Spec    map[string]any `mapstructure:"spec"`
}

// Load reads and decodes a config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Root == nil {
		return nil, fmt.Errorf("config %s: missing [supervisor] section", path)
	}
	if strings.TrimSpace(cfg.Root.Name) == "" {
		cfg.Root.Name = "root"
	}
	return &cfg, nil
}

// decodeTo decodes a map[string]any into a target type using mapstructure.
func decodeTo[T any](m map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

// BuildTree constructs the supervisor tree described by tc. The logger and
// sinks are shared by every supervisor in the tree.
func BuildTree(tc *TreeConfig, log *slog.Logger, sinks []history.Sink) (*supervisor.Supervisor, error) {
	opts := []supervisor.Option{
		supervisor.WithLogger(log),
		supervisor.WithHistorySinks(sinks...),
	}
	if tc.Strategy != "" {
		st, err := supervisor.ParseStrategy(tc.Strategy)
		if err != nil {
			return nil, fmt.Errorf("supervisor %q: %w", tc.Name, err)
		}
		opts = append(opts, supervisor.WithStrategy(st))
	}
	if tc.MonitorInterval != 0 {
		opts = append(opts, supervisor.WithMonitorInterval(tc.MonitorInterval))
	}
	if tc.MaxRestarts != nil {
		opts = append(opts, supervisor.WithMaxRestarts(*tc.MaxRestarts))
	}
	if tc.Window != nil {
		opts = append(opts, supervisor.WithRestartWindow(*tc.Window))
	}
	sup, err := supervisor.New(tc.Name, opts...)
	if err != nil {
		return nil, fmt.Errorf("supervisor %q: %w", tc.Name, err)
	}
	for i, m := range tc.Workers {
		w, name, err := buildMember(m, log, sinks)
		if err != nil {
			return nil, fmt.Errorf("supervisor %q member %d: %w", tc.Name, i, err)
		}
		wopts := []supervisor.WorkerOption{supervisor.WithName(name)}
		if m.Restart != "" {
			rt, err := supervisor.ParseRestartType(m.Restart)
			if err != nil {
				return nil, fmt.Errorf("supervisor %q member %d: %w", tc.Name, i, err)
			}
			wopts = append(wopts, supervisor.WithRestartType(rt))
		}
		id, err := sup.AddWorker(w, wopts...)
		if err != nil {
			return nil, fmt.Errorf("supervisor %q member %d: %w", tc.Name, i, err)
		}
		if id == "" {
			return nil, fmt.Errorf("supervisor %q member %d (%s) was not accepted", tc.Name, i, name)
		}
	}
	return sup, nil
}

func buildMember(m MemberConfig, log *slog.Logger, sinks []history.Sink) (any, string, error) {
	typ := strings.ToLower(strings.TrimSpace(m.Type))
	switch typ {
	case "", "command":
		spec, err := decodeTo[runnable.CommandSpec](m.Spec)
		if err != nil {
			return nil, "", fmt.Errorf("decode command spec: %w", err)
		}
		if strings.TrimSpace(spec.Name) == "" {
			return nil, "", fmt.Errorf("command worker requires name")
		}
		if strings.TrimSpace(spec.Command) == "" {
			return nil, "", fmt.Errorf("command worker %q requires command", spec.Name)
		}
		return runnable.NewCommand(spec), spec.Name, nil
	case "supervisor":
		sub, err := decodeTo[TreeConfig](m.Spec)
		if err != nil {
			return nil, "", fmt.Errorf("decode nested supervisor: %w", err)
		}
		if strings.TrimSpace(sub.Name) == "" {
			return nil, "", fmt.Errorf("nested supervisor requires name")
		}
		child, err := BuildTree(&sub, log, sinks)
		if err != nil {
			return nil, "", err
		}
		return child, sub.Name, nil
	default:
		return nil, "", fmt.Errorf("unknown member type %q (allowed: command, supervisor)", m.Type)
	}
}
