package config

import (
	"fmt"

	"github.com/lambda-feedback/hotswap/internal/control"
	"github.com/lambda-feedback/hotswap/internal/lifecycle"
	"github.com/lambda-feedback/hotswap/internal/pipeline"
	"github.com/lambda-feedback/hotswap/internal/server"
	"github.com/lambda-feedback/hotswap/internal/supervisor"
	"github.com/lambda-feedback/hotswap/util/conf"
)

const EnvPrefix = "HOTSWAP_"

type Config struct {
	// LogLevel is the log level for the application
	LogLevel string `conf:"log_level"`

	// LogFormat is the log format for the application
	LogFormat string `conf:"log_format"`

	// EnvFile is a dotenv file with variables for the worker. Variables
	// configured in Supervisor.Env take precedence.
	EnvFile string `conf:"env_file"`

	// Supervisor configures the worker process
	Supervisor supervisor.Config `conf:"supervisor"`

	// Lifecycle configures how builds are applied to the worker
	Lifecycle lifecycle.Config `conf:"lifecycle"`

	// Manifest configures the build manifest watcher
	Manifest pipeline.WatcherConfig `conf:"manifest"`

	// Control configures the control socket
	Control control.Config `conf:"control"`

	// Http configures the status server
	Http server.HttpConfig `conf:"http"`
}

var DefaultConfig = conf.DefaultConfig(mergeMaps(
	conf.MergeDefaults("supervisor", map[string]any{
		"entry":          supervisor.DefaultEntry,
		"kill_signal":    supervisor.DefaultKillSignal,
		"reload.mode":    string(supervisor.ReloadMessage),
		"reload.timeout": supervisor.DefaultReloadTimeout.String(),
	}),
	conf.MergeDefaults("lifecycle", map[string]any{
		"restart_keyword": lifecycle.DefaultRestartKeyword,
	}),
	conf.MergeDefaults("manifest", map[string]any{
		"path":     "build/manifest.json",
		"debounce": pipeline.DefaultDebounce.String(),
	}),
	conf.MergeDefaults("control", map[string]any{
		"socket":        control.DefaultSocket,
		"restart_every": control.DefaultRestartEvery.String(),
	}),
	conf.MergeDefaults("http", map[string]any{
		"host": "localhost",
		"port": 9090,
	}),
))

// EnvListKeys are the list valued keys that can be set from env vars.
var EnvListKeys = []string{
	"supervisor.args",
	"supervisor.interpreter_args",
}

// sequenceKeys must hold lists in config files.
var sequenceKeys = []string{"args", "interpreter_args"}

// NormalizeFile checks the shape of a parsed config file. A string
// given for the supervisor is shorthand for its entry.
func NormalizeFile(data map[string]any) error {
	switch sup := data["supervisor"].(type) {
	case nil:
		return nil

	case string:
		data["supervisor"] = map[string]any{"entry": sup}
		return nil

	case map[string]any:
		for _, key := range sequenceKeys {
			value, ok := sup[key]
			if !ok || value == nil {
				continue
			}

			if _, ok := value.([]any); !ok {
				return fmt.Errorf("%w: supervisor.%s has to be a list of strings", supervisor.ErrConfiguration, key)
			}
		}

		return nil

	default:
		return fmt.Errorf("%w: supervisor has to be an entry name or a table", supervisor.ErrConfiguration)
	}
}

func mergeMaps(maps ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}
