package exec

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/testwarden/testwarden/internal/errors"
	"github.com/testwarden/testwarden/internal/logger"
	"github.com/testwarden/testwarden/internal/parse"
	"github.com/testwarden/testwarden/internal/testrun"
)

const containerWorkdir = "/app"

// DockerStrategy runs the test runner inside an ephemeral container. The
// project directory is bind-mounted read-only at /app so the container can
// never mutate the host project. The container is force-removed on every
// exit path: normal completion, early cutoff, cancellation, and crashes.
type DockerStrategy struct {
	cli   *client.Client
	grace time.Duration
}

// NewDocker connects to the container runtime. An unreachable daemon is a
// configuration problem, not a core-logic failure, and is reported as such.
func NewDocker(ctx context.Context) (*DockerStrategy, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.NewConfigurationError("container runtime unavailable: "+err.Error(), "is the Docker daemon running?")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, errors.NewConfigurationError("container runtime unreachable: "+err.Error(), "is the Docker daemon running?")
	}

	return &DockerStrategy{cli: cli, grace: 5 * time.Second}, nil
}

func (s *DockerStrategy) Mode() testrun.Mode { return testrun.ModeContainer }

// Close releases the client connection.
func (s *DockerStrategy) Close() error {
	return s.cli.Close()
}

// Execute creates and starts the container. Image problems surface as
// ConfigurationError before anything runs; a started command that exits
// non-zero is a normal completion.
func (s *DockerStrategy) Execute(ctx context.Context, req testrun.RunRequest, selected []string) (*Stream, error) {
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

	if err := s.ensureImage(ctx, req.ContainerImage); err != nil {
		return nil, err
	}

	created, err := s.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      req.ContainerImage,
			Cmd:        strslice.StrSlice(argv),
			WorkingDir: containerWorkdir,
		},
		&container.HostConfig{
			Binds: []string{req.ProjectPath + ":" + containerWorkdir + ":ro"},
		},
		nil, nil, "")
	if err != nil {
		return nil, errors.NewExecutionError("container create", err.Error())
	}

	if err := s.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		s.removeContainer(created.ID)
		return nil, errors.NewExecutionError("container start", err.Error())
	}
	logger.Debug("started container %s (%s) for %s", created.ID[:12], req.ContainerImage, req.ProjectPath)

	stream := NewStream()
	go s.pump(ctx, created.ID, req, grammar, stream)
	return stream, nil
}

// ensureImage checks the image is present and pulls it when it is not.
func (s *DockerStrategy) ensureImage(ctx context.Context, ref string) error {
	if _, err := s.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return errors.NewConfigurationError("container image check failed: "+err.Error(), "")
	}

	logger.Info("pulling container image %s", ref)
	rc, err := s.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errors.NewConfigurationError("container image unavailable: "+ref+": "+err.Error(), "check the image name and registry access")
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return errors.NewConfigurationError("container image pull failed: "+ref+": "+err.Error(), "")
	}
	return nil
}

// pump streams the container logs, enforces the advisory cutoff, reaps the
// exit code, and guarantees container removal.
func (s *DockerStrategy) pump(ctx context.Context, containerID string, req testrun.RunRequest, grammar parse.Grammar, stream *Stream) {
	defer s.removeContainer(containerID)

	stream.Emit(ctx, OutputEvent{Kind: EventStarted})

	var (
		mu             sync.Mutex
		buf            strings.Builder
		failures       int
		killedByCutoff bool
	)

	var once sync.Once
	stop := func(byCutoff bool) {
		once.Do(func() {
			mu.Lock()
			killedByCutoff = byCutoff
			mu.Unlock()
			logger.Debug("stopping container %s (cutoff=%v)", containerID[:12], byCutoff)
			grace := int(s.grace.Seconds())
			stopCtx, cancel := context.WithTimeout(context.Background(), s.grace+10*time.Second)
			defer cancel()
			_ = s.cli.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &grace})
		})
	}

	// Reap the exit code independently of the caller's context: once the
	// container stops the wait completes.
	waitCh, waitErrCh := s.cli.ContainerWait(context.Background(), containerID, container.WaitConditionNotRunning)

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
			stop(true)
		}
	}

	logsDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stop(false)
		case <-logsDone:
		}
	}()

	s.streamLogs(containerID, handleLine)
	close(logsDone)

	exit := -1
	select {
	case resp := <-waitCh:
		exit = int(resp.StatusCode)
	case err := <-waitErrCh:
		logger.Error("waiting for container %s: %v", containerID[:12], err)
	}

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

// streamLogs follows the container's multiplexed log stream and hands over
// demultiplexed lines until the container exits.
func (s *DockerStrategy) streamLogs(containerID string, handle func(string)) {
	logs, err := s.cli.ContainerLogs(context.Background(), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		logger.Error("attaching to container %s logs: %v", containerID[:12], err)
		return
	}
	defer logs.Close()

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, logs)
		pw.CloseWithError(err)
	}()
	_ = scanLines(pr, handle)
}

// removeContainer is the scoped-resource teardown; it runs on every exit
// path and never inherits a cancelled context.
func (s *DockerStrategy) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		logger.Error("removing container %s: %v", containerID[:12], err)
		return
	}
	logger.Debug("removed container %s", containerID[:12])
}
