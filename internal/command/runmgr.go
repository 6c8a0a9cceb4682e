package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"runmgr/internal/config"
	"runmgr/internal/core"
	"runmgr/internal/logging"
	"runmgr/pkg/domain"
)

// RunmgrDeps are the seams of the runmgr application.
type RunmgrDeps struct {
	LoadConfig func(path string) (*config.Config, error)
	Open       func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error)
	Stdout     io.Writer
	Stderr     io.Writer
}

// BuildRunmgrApp returns the run manager command line.
func BuildRunmgrApp(deps RunmgrDeps) *cli.App {
	r := &runmgr{deps: deps}
	return &cli.App{
		Name:      "runmgr",
		Usage:     "track sequencing runs through download, demultiplexing and upload",
		Writer:    writerOr(deps.Stdout, os.Stdout),
		ErrWriter: writerOr(deps.Stderr, os.Stderr),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "configuration file", EnvVars: []string{config.EnvConfig}},
		},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "create the run database",
				Action: r.with(r.initialize),
			},
			{
				Name:   "load",
				Usage:  "refresh the run list from BaseSpace",
				Action: r.with(r.load),
			},
			{
				Name:   "update",
				Usage:  "run one pipeline cycle",
				Action: r.with(r.update),
			},
			{
				Name:  "runs",
				Usage: "list the most recent runs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "number of runs to show, 0 for all"},
				},
				Action: r.with(r.runs),
			},
			{
				Name:      "show",
				Usage:     "show a run with its projects",
				ArgsUsage: "RUN",
				Action:    r.with(r.show),
			},
			{
				Name:      "oper",
				Usage:     "show or set stage codes (+d -d d! +x -x x! +u -u)",
				ArgsUsage: "RUN [CHANGE...]",
				Action:    r.with(r.oper),
			},
			{
				Name:      "toggle",
				Usage:     "toggle the request of a stage (download, demux, upload)",
				ArgsUsage: "RUN STAGE",
				Action:    r.with(r.toggle),
			},
			{
				Name:      "toggle-upload",
				Usage:     "toggle the upload request of one project",
				ArgsUsage: "RUN PROJECT",
				Action:    r.with(r.toggleUpload),
			},
			{
				Name:      "attach",
				Usage:     "attach a sample sheet, by key or by flowcell match",
				ArgsUsage: "RUN [KEY]",
				Action:    r.with(r.attach),
			},
			{
				Name:      "redemux",
				Usage:     "demultiplex projects again; options: 0 (no mismatches), 1 and 2 (reverse complement index)",
				ArgsUsage: "RUN PROJECT:OPTIONS...",
				Action:    r.with(r.redemux),
			},
			{
				Name:   "ongoing",
				Usage:  "list runs with requested or ongoing stages",
				Action: r.with(r.ongoing),
			},
			{
				Name:   "completed",
				Usage:  "list runs with completed or failed stages",
				Action: r.with(r.completed),
			},
		},
	}
}

type runmgr struct {
	deps RunmgrDeps
}

// with loads the configuration, opens a runtime and hands both to fn.
func (r *runmgr) with(fn func(c *cli.Context, rt *Runtime) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		load := r.deps.LoadConfig
		if load == nil {
			load = config.Load
		}
		cfg, err := load(c.String("config"))
		if err != nil {
			return err
		}
		logger := logging.NewLogger(logging.Options{
			Level:     cfg.Log.Level,
			Format:    cfg.Log.Format,
			Writer:    c.App.ErrWriter,
			Component: "runmgr",
		})
		open := r.deps.Open
		if open == nil {
			open = OpenRuntime
		}
		rt, err := open(c.Context, cfg, logger)
		if err != nil {
			return err
		}
		err = fn(c, rt)
		if cerr := rt.Close(); cerr != nil {
			logger.Warn("close runtime", "error", cerr)
		}
		return err
	}
}

func (r *runmgr) initialize(c *cli.Context, rt *Runtime) error {
	if err := rt.Service.Initialize(c.Context); err != nil {
		return err
	}
	_, err := fmt.Fprintln(c.App.Writer, "run database ready")
	return err
}

func (r *runmgr) load(c *cli.Context, rt *Runtime) error {
	listed, added, err := rt.Service.RefreshRuns(c.Context)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "%d runs downloaded from Basespace, %d new runs added.\n", listed, added)
	return err
}

func (r *runmgr) update(c *cli.Context, rt *Runtime) error {
	report, err := rt.Service.RunCycle(c.Context)
	if errors.Is(err, core.ErrCycleInProgress) {
		fmt.Fprintln(c.App.ErrWriter, "another cycle is in progress")
		return nil
	}
	for _, line := range report.Events {
		fmt.Fprintln(c.App.Writer, line)
	}
	if werr := rt.writeMetrics(); werr != nil {
		err = errors.Join(err, werr)
	}
	return err
}

func (r *runmgr) runs(c *cli.Context, rt *Runtime) error {
	runs, total, err := rt.Service.ListRuns(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	if err := writeRunTable(c.App.Writer, runs); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "%d of %d runs\n", len(runs), total)
	return err
}

func (r *runmgr) show(c *cli.Context, rt *Runtime) error {
	run, err := resolveArg(c, rt, 1)
	if err != nil {
		return err
	}
	d, err := rt.Service.Describe(c.Context, run.ID)
	if err != nil {
		return err
	}
	return writeRunDetail(c.App.Writer, d)
}

// operChanges maps the oper change tokens to a stage and code.
var operChanges = map[string]struct {
	stage domain.Stage
	code  domain.OpCode
}{
	"+d": {domain.StageDownload, domain.OpRequested},
	"-d": {domain.StageDownload, domain.OpNotRequested},
	"d!": {domain.StageDownload, domain.OpCompleted},
	"+x": {domain.StageDemux, domain.OpRequested},
	"-x": {domain.StageDemux, domain.OpNotRequested},
	"x!": {domain.StageDemux, domain.OpCompleted},
	"+u": {domain.StageUpload, domain.OpRequested},
	"-u": {domain.StageUpload, domain.OpNotRequested},
}

func (r *runmgr) oper(c *cli.Context, rt *Runtime) error {
	run, err := resolveArg(c, rt, 1)
	if err != nil {
		return err
	}
	for _, tok := range c.Args().Tail() {
		change, ok := operChanges[tok]
		if !ok {
			return fmt.Errorf("unknown change %q", tok)
		}
		if err := rt.Service.ForceStage(c.Context, run.ID, change.stage, change.code); err != nil {
			return err
		}
	}
	d, err := rt.Service.Describe(c.Context, run.ID)
	if err != nil {
		return err
	}
	return writeOperations(c.App.Writer, d.Run, d.Operations)
}

func (r *runmgr) toggle(c *cli.Context, rt *Runtime) error {
	run, err := resolveArg(c, rt, 2)
	if err != nil {
		return err
	}
	stage, err := domain.ParseStage(c.Args().Get(1))
	if err != nil {
		return err
	}
	code, changed, err := rt.Service.ToggleStage(c.Context, run.ID, stage)
	if err != nil {
		return err
	}
	if !changed {
		_, err = fmt.Fprintf(c.App.Writer, "%s %s unchanged: %s\n", run.ExperimentName, stage, code)
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "%s %s: %s\n", run.ExperimentName, stage, code)
	return err
}

func (r *runmgr) toggleUpload(c *cli.Context, rt *Runtime) error {
	run, err := resolveArg(c, rt, 2)
	if err != nil {
		return err
	}
	project := c.Args().Get(1)
	code, changed, err := rt.Service.ToggleProjectUpload(c.Context, run.ID, project)
	if err != nil {
		return err
	}
	state := "unchanged"
	if changed {
		state = "now"
	}
	_, err = fmt.Fprintf(c.App.Writer, "%s/%s upload %s: %s\n", run.ExperimentName, project, state, code)
	return err
}

func (r *runmgr) attach(c *cli.Context, rt *Runtime) error {
	run, err := resolveArg(c, rt, 1)
	if err != nil {
		return err
	}
	var local string
	if key := c.Args().Get(1); key != "" {
		local, err = rt.Service.AttachSampleSheet(c.Context, run.ID, key)
	} else {
		local, err = rt.Service.AttachSampleSheetIfUnique(c.Context, run.ID, run.Metadata.FlowcellBarcode)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "%s: sample sheet %s\n", run.ExperimentName, local)
	return err
}

func (r *runmgr) redemux(c *cli.Context, rt *Runtime) error {
	run, err := resolveArg(c, rt, 2)
	if err != nil {
		return err
	}
	var selections []core.ProjectSelection
	for _, arg := range c.Args().Tail() {
		project, opts, ok := strings.Cut(arg, ":")
		if !ok || project == "" {
			return fmt.Errorf("expected PROJECT:OPTIONS, got %q", arg)
		}
		o, err := core.ParseRedemuxOptions(opts)
		if err != nil {
			return err
		}
		selections = append(selections, core.ProjectSelection{Project: project, Options: o})
	}
	_, submitted, err := rt.Service.RequestRedemux(c.Context, run.ID, selections)
	if err != nil {
		return err
	}
	if !submitted {
		_, err = fmt.Fprintln(c.App.Writer, "no project selected, nothing submitted")
		return err
	}
	for _, sel := range selections {
		if sel.Options != 0 {
			fmt.Fprintf(c.App.Writer, "%s/%s %s\n", run.ExperimentName, sel.Project, sel.Options)
		}
	}
	return nil
}

func (r *runmgr) ongoing(c *cli.Context, rt *Runtime) error {
	runs, err := rt.Service.Active(c.Context)
	if err != nil {
		return err
	}
	return writeRunTable(c.App.Writer, runs)
}

func (r *runmgr) completed(c *cli.Context, rt *Runtime) error {
	runs, err := rt.Service.Finished(c.Context)
	if err != nil {
		return err
	}
	return writeRunTable(c.App.Writer, runs)
}

func resolveArg(c *cli.Context, rt *Runtime, want int) (domain.Run, error) {
	if c.NArg() < want {
		return domain.Run{}, fmt.Errorf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return rt.Service.ResolveRun(c.Context, c.Args().First())
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}
