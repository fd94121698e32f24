package cmd

import (
	"encoding/json"
	"os"

	"github.com/lambda-feedback/hotswap/internal/control"
	"github.com/lambda-feedback/hotswap/util/logging"
	"github.com/urfave/cli/v2"
)

var (
	ctlCmdDescription = `The ctl command talks to a running hotswap instance over
its control socket.`
	ctlSocketFlag = &cli.PathFlag{
		Name:    "socket",
		Aliases: []string{"s"},
		Usage:   "the control socket of the running instance.",
		Value:   control.DefaultSocket,
		EnvVars: []string{"HOTSWAP_CONTROL__SOCKET"},
	}
	ctlTimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "time to wait for the control socket.",
		Value: control.DefaultDialTimeout,
	}
	ctlCmd = &cli.Command{
		Name:        "ctl",
		Usage:       "Control a running instance.",
		Description: ctlCmdDescription,
		Flags:       []cli.Flag{ctlSocketFlag, ctlTimeoutFlag},
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Print the state of the worker as json.",
				Action: statusAction,
			},
			{
				Name:   "restart",
				Usage:  "Restart the worker with the most recent build.",
				Action: restartAction,
			},
		},
	}
)

func dialControl(ctx *cli.Context) (*control.Client, error) {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return nil, err
	}

	return control.Dial(ctx.Context, ctx.Path("socket"), ctx.Duration("timeout"), log)
}

func statusAction(ctx *cli.Context) error {
	client, err := dialControl(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	status, err := client.Status(ctx.Context)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(status)
}

func restartAction(ctx *cli.Context) error {
	client, err := dialControl(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	return client.Restart(ctx.Context)
}

func init() {
	rootApp.Commands = append(rootApp.Commands, ctlCmd)
}
