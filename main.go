package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/rancher/fileguard/pkg/applyinator"
	"github.com/rancher/fileguard/pkg/checkfile"
	"github.com/rancher/fileguard/pkg/config"
	"github.com/rancher/fileguard/pkg/localplan"
	"github.com/rancher/wrangler/v3/pkg/signals"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"k8s.io/apimachinery/pkg/util/sets"
)

var (
	Version   = "v0.0.0-dev"
	GitCommit = "HEAD"
)

const (
	configEnvKey   = "FILEGUARD_CONFIG"
	logLevelEnvKey = "FILEGUARD_LOGLEVEL"
)

func main() {
	logrus.SetOutput(colorable.NewColorableStdout())

	if rawLevel := os.Getenv(logLevelEnvKey); rawLevel != "" {
		lvl, err := logrus.ParseLevel(rawLevel)
		if err != nil {
			logrus.Fatal(err)
		}
		logrus.SetLevel(lvl)
	}

	app := newApp()
	app.ErrWriter = colorable.NewColorableStderr()

	if err := app.RunContext(signals.SetupSignalContext(), os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "fileguard",
		Usage:   "Warn about permission, owner and group changes made by privileged operations",
		Version: fmt.Sprintf("%s (%s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the guard configuration file",
				EnvVars: []string{configEnvKey},
				Value:   config.DefaultConfigFile,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "where change warnings go: plain (stderr) or log",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "exec",
				Usage:     "run a command and report attribute changes to the watched paths",
				ArgsUsage: "-- COMMAND [ARGS...]",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "watch",
						Usage: "path to watch, may be repeated",
					},
				},
				Action: execCommand,
			},
			{
				Name:      "apply",
				Usage:     "apply a plan file and report attribute changes to the files it manages",
				ArgsUsage: "PLANFILE",
				Action:    applyPlan,
			},
			{
				Name:      "apply-dir",
				Usage:     "apply every plan in a directory",
				ArgsUsage: "[DIR...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "keep applying new or changed plans until interrupted",
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "how often to look for plans with --watch",
						Value: localplan.DefaultInterval,
					},
				},
				Action: applyDir,
			},
			{
				Name:      "inspect",
				Usage:     "print the attributes the guard can see for each path",
				ArgsUsage: "PATH...",
				Action:    inspect,
			},
			{
				Name:      "validate-config",
				Usage:     "check that a configuration file is valid",
				ArgsUsage: "FILE",
				Action:    validateConfig,
			},
		},
	}
}

// loadConfig reads the configuration named by --config. A missing file at the
// default location means the defaults.
func loadConfig(c *cli.Context) (config.GuardConfig, error) {
	path := c.String("config")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !c.IsSet("config") {
		logrus.Debugf("No configuration file at %s, using defaults", path)
		cfg := config.Default()
		return cfg, applyOutputFlag(c, &cfg)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	return cfg, applyOutputFlag(c, &cfg)
}

func applyOutputFlag(c *cli.Context, cfg *config.GuardConfig) error {
	if output := c.String("output"); output != "" {
		cfg.Output = output
	}
	return config.Validate(cfg)
}

func newGuard(c *cli.Context, cfg config.GuardConfig) *checkfile.Command {
	var term checkfile.Terminal
	if cfg.Output == config.OutputLog {
		term = checkfile.NewLogTerminal(logrus.StandardLogger())
	} else {
		term = checkfile.NewWriterTerminal(c.App.ErrWriter)
	}
	return checkfile.New(checkfile.NewOsFs(), term, checkfile.WithServiceName(cfg.ServiceName))
}

func newApplyinator(cfg config.GuardConfig) *applyinator.Applyinator {
	logrus.Debugf("Using directory %s for work", cfg.WorkDir)
	return applyinator.NewApplyinator(cfg.WorkDir, cfg.PreserveWorkDir, cfg.AppliedPlanDir)
}

func exitWith(status checkfile.ExitStatus) error {
	if status == checkfile.OK {
		return nil
	}
	return cli.Exit("", int(status))
}

func execCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("a command to run is required", int(checkfile.Usage))
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), int(checkfile.Config))
	}

	args := c.Args().Slice()
	paths := append(c.StringSlice("watch"), cfg.WatchPaths...)

	status, err := newGuard(c, cfg).Run(c.Context, checkfile.StaticPaths(paths...), func(ctx context.Context) (checkfile.ExitStatus, error) {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = c.App.Writer
		cmd.Stderr = c.App.ErrWriter
		logrus.Debugf("Running %s", strings.Join(args, " "))
		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
				return checkfile.ExitStatus(exitErr.ExitCode()), nil
			}
			return checkfile.Unavailable, err
		}
		return checkfile.OK, nil
	})
	if err != nil {
		return cli.Exit(err.Error(), int(status))
	}
	return exitWith(status)
}

func applyPlan(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one plan file is required", int(checkfile.Usage))
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), int(checkfile.Config))
	}

	planFile := c.Args().First()
	b, err := os.ReadFile(planFile)
	if err != nil {
		return cli.Exit(err.Error(), int(checkfile.NoInput))
	}
	cp, err := applyinator.CalculatePlan(b)
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", planFile, err), int(checkfile.DataError))
	}

	a := newApplyinator(cfg)
	input := applyinator.ApplyInput{
		CalculatedPlan:         cp,
		ReconcileFiles:         true,
		RunOneTimeInstructions: true,
	}
	paths := append(a.PathsForPermissionsCheck(cp.Plan), cfg.WatchPaths...)

	var output applyinator.ApplyOutput
	status, err := newGuard(c, cfg).Run(c.Context, checkfile.StaticPaths(paths...), a.Operation(input, &output))
	if err != nil {
		return cli.Exit(err.Error(), int(status))
	}

	saved, err := applyinator.DecodeOneTimeOutput(output.OneTimeOutput)
	if err != nil {
		return err
	}
	for _, name := range sets.List(sets.KeySet(saved)) {
		fmt.Fprintf(c.App.Writer, "[%s]\n%s", name, saved[name])
	}
	return exitWith(status)
}

func applyDir(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), int(checkfile.Config))
	}

	dirs := c.Args().Slice()
	if len(dirs) == 0 && cfg.LocalPlanDir != "" {
		dirs = []string{cfg.LocalPlanDir}
	}
	if len(dirs) == 0 {
		return cli.Exit("a plan directory is required", int(checkfile.Usage))
	}

	runner := localplan.New(newApplyinator(cfg), newGuard(c, cfg), cfg.WatchPaths, dirs...)
	if c.Bool("watch") {
		logrus.Infof("Watching for plans in %s", strings.Join(dirs, ", "))
		runner.Watch(c.Context, c.Duration("interval"))
		return nil
	}

	results, err := runner.ApplyOnce(c.Context)
	status := checkfile.OK
	for _, result := range results {
		if result.Status != checkfile.OK && status == checkfile.OK {
			status = result.Status
		}
	}
	if err != nil {
		if status == checkfile.OK {
			status = checkfile.DataError
		}
		return cli.Exit(err.Error(), int(status))
	}
	return exitWith(status)
}

func inspect(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one path is required", int(checkfile.Usage))
	}

	fsys := checkfile.NewOsFs()
	caps := checkfile.Probe(fsys)
	fmt.Fprintf(c.App.Writer, "capabilities: %s\n", caps)

	for _, path := range c.Args().Slice() {
		attrs, ok := checkfile.CaptureAttributes(fsys, caps, path)
		if !ok {
			fmt.Fprintf(c.App.Writer, "%s: missing\n", path)
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s: permissions=%s owner=%s group=%s\n", path,
			valueOrDash(attrs, checkfile.Permissions),
			valueOrDash(attrs, checkfile.Owner),
			valueOrDash(attrs, checkfile.Group))
	}
	return nil
}

func valueOrDash(attrs checkfile.Attributes, cat checkfile.Category) string {
	if !attrs.Has(cat) {
		return "-"
	}
	return attrs.Value(cat)
}

func validateConfig(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("configuration file not specified")
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("configuration file not found: %s", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid configuration file %s: %w", path, err)
	}

	fmt.Fprintf(c.App.Writer, "Configuration file %s is valid (work directory %s)\n", path, cfg.WorkDir)
	return nil
}
