package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pbspro/sched-ctl/config"
)

const (
	ServiceName      = "sched-ctl"
	ServiceNamespace = "pbspro"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run parses the pbs_sched-style CLI (spec.md §6) and runs the
// fx-wired daemon until a shutdown signal or policy-driven quit.
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Client-facing control plane for a batch job scheduler daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "home", Aliases: []string{"d"}, Usage: "override home directory"},
			&cli.StringFlag{Name: "log-file", Aliases: []string{"L"}, Usage: "log file path"},
			&cli.StringFlag{Name: "instance-name", Aliases: []string{"I"}, Value: "default", Usage: "instance name"},
			&cli.IntFlag{Name: "scheduler-port", Aliases: []string{"S"}, Value: config.DefaultSchedulerPort, Usage: "scheduler service port"},
			&cli.IntFlag{Name: "rm-port", Aliases: []string{"R"}, Value: config.DefaultRMPort, Usage: "resource-monitor port"},
			&cli.BoolFlag{Name: "foreground", Aliases: []string{"N"}, Usage: "run in foreground"},
			&cli.BoolFlag{Name: "disable-restart", Aliases: []string{"n"}, Usage: "disable segv-restart"},
			&cli.StringFlag{Name: "clients-file", Aliases: []string{"c"}, Usage: "allow-list config file"},
			&cli.IntFlag{Name: "worker-threads", Aliases: []string{"t"}, Value: config.DefaultWorkerThreads, Usage: "worker-thread count"},
			&cli.BoolFlag{Name: "lock-pages", Aliases: []string{"l"}, Usage: "lock pages in memory if supported"},
			&cli.DurationFlag{Name: "cycle-alarm", Aliases: []string{"a"}, Usage: "deprecated: cycle alarm seconds"},
			&cli.StringFlag{Name: "config-file", Usage: "path to a YAML/TOML config file"},
		},
		Action: runDaemon,
	}

	return app.Run(os.Args)
}

func runDaemon(c *cli.Context) error {
	cfg, err := config.Load(rawPflagArgs(c))
	if err != nil {
		return err
	}

	app := NewApp(cfg)
	if err := app.Start(c.Context); err != nil {
		return err
	}

	<-app.Done()

	slog.Info("SCHED_SHUTTING_DOWN")
	return app.Stop(c.Context)
}

// rawPflagArgs re-derives the pflag-compatible argument slice from the
// urfave/cli context so config.Load's pflag.FlagSet can parse the same
// invocation without urfave/cli and pflag fighting over os.Args
// directly.
func rawPflagArgs(c *cli.Context) []string {
	var args []string
	for _, name := range c.FlagNames() {
		if !c.IsSet(name) {
			continue
		}
		args = append(args, "--"+name, c.String(name))
	}
	return args
}
