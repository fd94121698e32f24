package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lambda-feedback/hotswap/config"
	"github.com/lambda-feedback/hotswap/internal/supervisor"
	"github.com/lambda-feedback/hotswap/util/conf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func parse(t *testing.T, file string) (config.Config, error) {
	t.Helper()

	return conf.Parse[config.Config](conf.ParseOptions{
		Defaults:    config.DefaultConfig,
		EnvPrefix:   config.EnvPrefix,
		EnvListKeys: config.EnvListKeys,
		FileName:    file,
		Normalize:   config.NormalizeFile,
	})
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse(t, "")
	require.NoError(t, err)

	assert.Equal(t, "main", cfg.Supervisor.Entry)
	assert.Equal(t, "SIGTERM", cfg.Supervisor.KillSignal)
	assert.Equal(t, supervisor.ReloadMessage, cfg.Supervisor.Reload.Mode)
	assert.Equal(t, 5*time.Second, cfg.Supervisor.Reload.Timeout)
	assert.Equal(t, "rs", cfg.Lifecycle.RestartKeyword)
	assert.Equal(t, "build/manifest.json", cfg.Manifest.Path)
	assert.Equal(t, ".hotswap.sock", cfg.Control.Socket)
	assert.Equal(t, 9090, cfg.Http.Port)
	assert.False(t, cfg.Http.Enabled)
}

func TestParse_YAML(t *testing.T) {
	file := writeFile(t, "hotswap.yaml", `
supervisor:
  entry: server
  interpreter: node
  interpreter_args: ["--inspect"]
  args: ["--port", "3000"]
  once: true
  env:
    NODE_ENV: development
  reload:
    mode: signal
    signal: "true"
lifecycle:
  restartable: true
`)

	cfg, err := parse(t, file)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Supervisor.Entry)
	assert.Equal(t, "node", cfg.Supervisor.Interpreter)
	assert.Equal(t, []string{"--inspect"}, cfg.Supervisor.InterpreterArgs)
	assert.Equal(t, []string{"--port", "3000"}, cfg.Supervisor.Args)
	assert.True(t, cfg.Supervisor.Once)
	assert.Equal(t, "development", cfg.Supervisor.Env["NODE_ENV"])
	assert.Equal(t, supervisor.ReloadSignal, cfg.Supervisor.Reload.Mode)
	assert.True(t, cfg.Lifecycle.Restartable)

	// untouched keys keep their defaults
	assert.Equal(t, "SIGTERM", cfg.Supervisor.KillSignal)
}

func TestParse_TOML(t *testing.T) {
	file := writeFile(t, "hotswap.toml", `
log_level = "debug"

[supervisor]
entry = "api"
args = ["serve"]
stop_timeout = "2s"

[http]
enabled = true
port = 8081
`)

	cfg, err := parse(t, file)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "api", cfg.Supervisor.Entry)
	assert.Equal(t, []string{"serve"}, cfg.Supervisor.Args)
	assert.Equal(t, 2*time.Second, cfg.Supervisor.StopTimeout)
	assert.True(t, cfg.Http.Enabled)
	assert.Equal(t, 8081, cfg.Http.Port)
}

func TestParse_JSON_EntryShorthand(t *testing.T) {
	file := writeFile(t, "hotswap.json", `{"supervisor": "worker"}`)

	cfg, err := parse(t, file)
	require.NoError(t, err)

	assert.Equal(t, "worker", cfg.Supervisor.Entry)
	assert.Equal(t, "SIGTERM", cfg.Supervisor.KillSignal)
}

func TestParse_ArgsMustBeSequence(t *testing.T) {
	tests := map[string]string{
		"hotswap.json": `{"supervisor": {"args": "--port 3000"}}`,
		"hotswap.yaml": "supervisor:\n  interpreter_args: --inspect\n",
		"hotswap.toml": "[supervisor]\nargs = 3000\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parse(t, writeFile(t, name, content))
			assert.ErrorIs(t, err, supervisor.ErrConfiguration)
		})
	}
}

func TestParse_InvalidSupervisorShape(t *testing.T) {
	_, err := parse(t, writeFile(t, "hotswap.json", `{"supervisor": 42}`))
	assert.ErrorIs(t, err, supervisor.ErrConfiguration)
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := parse(t, writeFile(t, "hotswap.ini", "entry=main"))
	assert.Error(t, err)
}

func TestParse_Env(t *testing.T) {
	t.Setenv("HOTSWAP_SUPERVISOR__ARGS", "--port 3000")
	t.Setenv("HOTSWAP_SUPERVISOR__ONCE", "true")
	t.Setenv("HOTSWAP_LOG_LEVEL", "warn")

	cfg, err := parse(t, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"--port", "3000"}, cfg.Supervisor.Args)
	assert.True(t, cfg.Supervisor.Once)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestReadEnvFile(t *testing.T) {
	file := writeFile(t, ".env", "NODE_ENV=development\nPORT=3000\n")

	env, err := conf.ReadEnvFile(file)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"NODE_ENV": "development", "PORT": "3000"}, env)

	_, err = conf.ReadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
