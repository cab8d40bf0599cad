package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/testwarden/testwarden/internal/coordinator"
	"github.com/testwarden/testwarden/internal/exec"
	"github.com/testwarden/testwarden/internal/report"
	"github.com/testwarden/testwarden/internal/testrun"
)

// RunOptions collects the flag values of the 'run' subcommand.
type RunOptions struct {
	ProjectPath   string
	TestPath      string
	Runner        string
	Mode          string
	Image         string
	MaxTokens     int
	MaxFailures   int
	RunLastFailed bool
	Timeout       time.Duration
	ExtraArgs     []string
	Format        string
	Stream        bool
}

// Run executes one test run and prints the finalized record.
func Run(ctx context.Context, config *Config, opts RunOptions) (int, error) {
	if !report.ValidFormat(opts.Format) {
		return 2, fmt.Errorf("unsupported format: %s (supported: %v)", opts.Format, report.SupportedFormats())
	}

	st, err := OpenStore(ctx, config)
	if err != nil {
		return 2, err
	}
	defer st.Close()

	coord := coordinator.New(config, st)
	req := testrun.RunRequest{
		ProjectPath:    opts.ProjectPath,
		TestPath:       opts.TestPath,
		Runner:         testrun.Runner(opts.Runner),
		Mode:           testrun.Mode(opts.Mode),
		ContainerImage: opts.Image,
		MaxTokens:      opts.MaxTokens,
		MaxFailures:    opts.MaxFailures,
		RunLastFailed:  opts.RunLastFailed,
		Timeout:        opts.Timeout,
		ExtraArgs:      opts.ExtraArgs,
	}

	var run *testrun.TestRun
	if opts.Stream {
		run, err = runStreaming(ctx, coord, req)
	} else {
		run, err = coord.Execute(ctx, req)
	}
	if err != nil {
		return 2, err
	}

	if err := report.FormatToWriter(run, report.FormatType(opts.Format), os.Stdout); err != nil {
		return 2, err
	}
	return exitCodeFor(run.Status), nil
}

// runStreaming echoes runner output to stderr as it arrives, keeping stdout
// free for the formatted record.
func runStreaming(ctx context.Context, coord *coordinator.Coordinator, req testrun.RunRequest) (*testrun.TestRun, error) {
	h, err := coord.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	quit := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-quit:
		}
	}()
	for ev := range h.Events() {
		if ev.Kind == exec.EventLine {
			fmt.Fprintln(os.Stderr, ev.Line)
		}
	}
	close(quit)
	return h.Wait(context.Background())
}

// exitCodeFor maps a final run status onto a process exit code.
func exitCodeFor(status testrun.Status) int {
	switch status {
	case testrun.StatusCompleted:
		return 0
	case testrun.StatusFailedTests:
		return 1
	default:
		return 2
	}
}
