package cmd

import (
	"fmt"
	"maps"

	"github.com/lambda-feedback/hotswap/app"
	"github.com/lambda-feedback/hotswap/app/supervise"
	"github.com/lambda-feedback/hotswap/config"
	"github.com/lambda-feedback/hotswap/util/conf"
	"github.com/lambda-feedback/hotswap/util/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	runCmdDescription = `The run command watches the manifest written by the build
tool and runs the script built for the given entry as a
worker process.

Whenever a build completes, a live worker is asked to reload
its code in place. If it cannot, or if it does not answer in
time, the worker is restarted with the new build. Crashed
workers are restarted once, unless --once is set.

The entry defaults to "main".`
	runCmd = &cli.Command{
		Name:        "run",
		Usage:       "Supervise the worker built for an entry.",
		Description: runCmdDescription,
		ArgsUsage:   "[entry]",
		Before:      parseConfig,
		Action:      runAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "interpreter",
				Usage:    "the program used to run the script, e.g. node. The script is executed directly if empty.",
				Category: "worker",
			},
			&cli.StringSliceFlag{
				Name:     "interpreter-arg",
				Usage:    "arguments passed to the interpreter, before the script.",
				Category: "worker",
			},
			&cli.StringSliceFlag{
				Name:     "arg",
				Usage:    "arguments passed to the script.",
				Aliases:  []string{"a"},
				Category: "worker",
			},
			&cli.PathFlag{
				Name:     "env-file",
				Usage:    "a dotenv file with variables for the worker.",
				Category: "worker",
			},
			&cli.PathFlag{
				Name:     "cwd",
				Usage:    "the working directory of the worker.",
				Category: "worker",
			},
			&cli.BoolFlag{
				Name:     "once",
				Usage:    "exit when the worker exits, instead of restarting it.",
				Category: "worker",
			},
			&cli.StringFlag{
				Name:     "kill-signal",
				Usage:    "the signal used to stop the worker.",
				Category: "worker",
			},
			&cli.DurationFlag{
				Name:     "stop-timeout",
				Usage:    "time to wait for the worker to stop before it is killed. Zero does not wait.",
				Category: "worker",
			},
			&cli.DurationFlag{
				Name:     "shutdown-timeout",
				Usage:    "time to wait for the worker to stop when hotswap exits, before it is killed.",
				Category: "worker",
			},
			&cli.BoolFlag{
				Name:     "detach-stdin",
				Usage:    "do not pass stdin to the worker. Implied by --restartable.",
				Category: "worker",
			},
			&cli.StringFlag{
				Name:     "reload",
				Usage:    "how live workers are reloaded. Options: message, signal, none.",
				Category: "reload",
			},
			&cli.StringFlag{
				Name:     "reload-signal",
				Usage:    "the signal sent to reload the worker in signal mode. Default: SIGUSR2.",
				Category: "reload",
			},
			&cli.DurationFlag{
				Name:     "reload-timeout",
				Usage:    "time to wait for the worker to confirm a reload.",
				Category: "reload",
			},
			&cli.BoolFlag{
				Name:     "kill-on-invalidate",
				Usage:    "stop the worker as soon as a new build starts.",
				Category: "reload",
			},
			&cli.PathFlag{
				Name:     "manifest",
				Aliases:  []string{"m"},
				Usage:    "the build manifest to watch.",
				Category: "build",
			},
			&cli.BoolFlag{
				Name:     "restartable",
				Usage:    "restart the worker when the restart keyword is typed.",
				Aliases:  []string{"r"},
				Category: "console",
				EnvVars:  []string{"HOTSWAP_RESTARTABLE"},
			},
			&cli.PathFlag{
				Name:     "control-socket",
				Usage:    "the control socket path. Set to an empty string to disable.",
				Category: "control",
			},
			&cli.BoolFlag{
				Name:     "http",
				Usage:    "serve status, health and metrics over http.",
				Category: "http",
			},
			&cli.StringFlag{
				Name:     "http-host",
				Usage:    "the host to listen on.",
				Category: "http",
			},
			&cli.IntFlag{
				Name:     "http-port",
				Usage:    "the port to listen on.",
				Category: "http",
			},
			&cli.BoolFlag{
				Name:     "h2c",
				Usage:    "enable HTTP/2 cleartext upgrade.",
				Category: "http",
			},
		},
	}
)

var runCliMap = map[string]string{
	"log-level":          "log_level",
	"log-format":         "log_format",
	"interpreter":        "supervisor.interpreter",
	"interpreter-arg":    "supervisor.interpreter_args",
	"arg":                "supervisor.args",
	"env-file":           "env_file",
	"cwd":                "supervisor.cwd",
	"once":               "supervisor.once",
	"kill-signal":        "supervisor.kill_signal",
	"stop-timeout":       "supervisor.stop_timeout",
	"shutdown-timeout":   "supervisor.shutdown_timeout",
	"detach-stdin":       "supervisor.detach_stdin",
	"reload":             "supervisor.reload.mode",
	"reload-signal":      "supervisor.reload.signal",
	"reload-timeout":     "supervisor.reload.timeout",
	"kill-on-invalidate": "lifecycle.kill_on_invalidate",
	"manifest":           "manifest.path",
	"restartable":        "lifecycle.restartable",
	"control-socket":     "control.socket",
	"http":               "http.enabled",
	"http-host":          "http.host",
	"http-port":          "http.port",
	"h2c":                "http.h2c",
}

func parseConfig(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	cfg, err := conf.Parse[config.Config](conf.ParseOptions{
		Cli:         ctx,
		CliMap:      runCliMap,
		Defaults:    config.DefaultConfig,
		EnvPrefix:   config.EnvPrefix,
		EnvListKeys: config.EnvListKeys,
		FileName:    ctx.Path("config"),
		Normalize:   config.NormalizeFile,
		Log:         log,
	})
	if err != nil {
		return err
	}

	// the entry can be given as the only argument
	if ctx.NArg() > 1 {
		return fmt.Errorf("expected at most one entry, got %d", ctx.NArg())
	} else if ctx.NArg() == 1 {
		cfg.Supervisor.Entry = ctx.Args().First()
	}

	if cfg.EnvFile != "" {
		env, err := conf.ReadEnvFile(cfg.EnvFile)
		if err != nil {
			return err
		}

		// explicitly configured variables take precedence
		maps.Copy(env, cfg.Supervisor.Env)
		cfg.Supervisor.Env = env
	}

	log.Debug("parsed config", zap.Any("config", cfg))

	// inject the config into the cli context
	ctx.Context = conf.ContextWithConfig(ctx.Context, cfg)

	return nil
}

func runAction(ctx *cli.Context) error {
	cfg, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return err
	}

	app, err := app.New(ctx)
	if err != nil {
		return err
	}

	return app.Run(ctx.Context, supervise.Module(cfg))
}

func init() {
	rootApp.Commands = append(rootApp.Commands, runCmd)
}
