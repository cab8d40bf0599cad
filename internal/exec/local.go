package exec

import (
	"bufio"
	"context"
	stderrors "errors"
	"io"
	"os"
	osexec "os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/testwarden/testwarden/internal/errors"
	"github.com/testwarden/testwarden/internal/logger"
	"github.com/testwarden/testwarden/internal/parse"
	"github.com/testwarden/testwarden/internal/testrun"
)

// LocalStrategy runs the test runner as a child process with the project
// root as its working directory. stdout and stderr are streamed line by line
// as they are produced.
type LocalStrategy struct {
	// grace is how long a SIGTERM gets before escalating to SIGKILL.
	grace time.Duration
}

// NewLocal creates a local subprocess strategy.
func NewLocal() *LocalStrategy {
	return &LocalStrategy{grace: 5 * time.Second}
}

func (s *LocalStrategy) Mode() testrun.Mode { return testrun.ModeLocal }

// Execute spawns the runner. Spawn failures are reported synchronously:
// a missing project directory is a ConfigurationError, a missing runner
// binary an ExecutionError.
func (s *LocalStrategy) Execute(ctx context.Context, req testrun.RunRequest, selected []string) (*Stream, error) {
	info, err := os.Stat(req.ProjectPath)
	if err != nil || !info.IsDir() {
		return nil, errors.NewConfigurationError("project path is not a directory: "+req.ProjectPath, "")
	}

	argv, err := BuildArgv(req, selected)
	if err != nil {
		return nil, err
	}
	grammar, err := parse.ForRunner(req.Runner)
	if err != nil {
		return nil, err
	}

	if _, err := osexec.LookPath(argv[0]); err != nil {
		return nil, errors.NewExecutionError("spawn", "runner executable not found: "+argv[0])
	}

	cmd := osexec.Command(argv[0], argv[1:]...)
	cmd.Dir = req.ProjectPath

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewExecutionError("spawn", err.Error())
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.NewExecutionError("spawn", err.Error())
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.NewExecutionError("spawn", err.Error())
	}
	logger.Debug("started %s (pid %d) in %s", strings.Join(argv, " "), cmd.Process.Pid, req.ProjectPath)

	stream := NewStream()
	go s.pump(ctx, cmd, req, grammar, stdout, stderr, stream)
	return stream, nil
}

// pump streams the child's output, enforces the advisory max-failures cutoff
// and delivers the final exit code.
func (s *LocalStrategy) pump(ctx context.Context, cmd *osexec.Cmd, req testrun.RunRequest, grammar parse.Grammar, stdout, stderr io.Reader, stream *Stream) {
	stream.Emit(ctx, OutputEvent{Kind: EventStarted})

	var (
		mu             sync.Mutex
		buf            strings.Builder
		failures       int
		killedByCutoff bool
		killTimer      *time.Timer
	)

	var terminate func(byCutoff bool)
	var once sync.Once
	terminate = func(byCutoff bool) {
		once.Do(func() {
			mu.Lock()
			killedByCutoff = byCutoff
			killTimer = time.AfterFunc(s.grace, func() {
				_ = cmd.Process.Kill()
			})
			mu.Unlock()
			logger.Debug("terminating pid %d (cutoff=%v)", cmd.Process.Pid, byCutoff)
			_ = cmd.Process.Signal(syscall.SIGTERM)
		})
	}

	handleLine := func(raw string) {
		line := parse.Normalize(raw)
		mu.Lock()
		buf.WriteString(line)
		buf.WriteString("\n")
		cutoffHit := false
		if req.MaxFailures > 0 && grammar.FailureLine(line) {
			failures++
			cutoffHit = failures >= req.MaxFailures
		}
		mu.Unlock()
		stream.Emit(ctx, OutputEvent{Kind: EventLine, Line: line})
		if cutoffHit {
			terminate(true)
		}
	}

	// Interleave stdout and stderr as their lines arrive; order within each
	// stream is preserved.
	var g errgroup.Group
	g.Go(func() error { return scanLines(stdout, handleLine) })
	g.Go(func() error { return scanLines(stderr, handleLine) })

	// Cancellation propagates to the child at the next event boundary.
	waitDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			terminate(false)
		case <-waitDone:
		}
	}()

	_ = g.Wait()
	err := cmd.Wait()
	close(waitDone)

	mu.Lock()
	if killTimer != nil {
		killTimer.Stop()
	}
	mu.Unlock()

	exit := exitCode(err)
	stream.Emit(ctx, OutputEvent{Kind: EventExited, ExitCode: exit})

	mu.Lock()
	result := &Result{
		ExitCode:       exit,
		Output:         buf.String(),
		KilledByCutoff: killedByCutoff,
	}
	mu.Unlock()
	stream.Finish(result, nil)
}

// scanLines reads r line by line. The buffer is sized generously because
// traceback lines can be long.
func scanLines(r io.Reader, handle func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		handle(scanner.Text())
	}
	return scanner.Err()
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *osexec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
