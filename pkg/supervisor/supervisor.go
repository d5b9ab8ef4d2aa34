// Package supervisor starts the render worker process and owns the two pipes
// that connect it to the dispatch queue.
//
// A supervisor moves through Uninitialized, Running and Dead exactly once.
// There is no respawn: once the worker's response stream reaches EOF or
// fails, the channel stays dead.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/docker/themethumb/pkg/dispatch"
)

// WorkerSubcommand is the hidden CLI subcommand the default worker command
// runs.
const WorkerSubcommand = "worker"

const defaultShutdownTimeout = 2 * time.Second

var (
	ErrChannelSetup   = errors.New("supervisor: channel setup failed")
	ErrAlreadyStarted = errors.New("supervisor: already started")
)

type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateDead
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Option func(*Supervisor)

// WithCommand replaces the worker command. By default the supervisor re-runs
// its own executable with the worker subcommand.
func WithCommand(path string, args ...string) Option {
	return func(s *Supervisor) {
		s.command = path
		s.args = args
	}
}

// WithArgs appends extra arguments to the worker command line.
func WithArgs(args ...string) Option {
	return func(s *Supervisor) {
		s.extraArgs = append(s.extraArgs, args...)
	}
}

// WithEnv adds environment entries for the worker on top of os.Environ().
func WithEnv(env ...string) Option {
	return func(s *Supervisor) {
		s.env = append(s.env, env...)
	}
}

// WithStderr sets where the worker's stderr goes. Defaults to os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(s *Supervisor) {
		s.stderr = w
	}
}

// WithShutdownTimeout bounds how long Close waits for the worker to exit on
// its own before killing it.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithQueueOptions forwards options to the dispatch queue.
func WithQueueOptions(opts ...dispatch.Option) Option {
	return func(s *Supervisor) {
		s.queueOpts = append(s.queueOpts, opts...)
	}
}

type Supervisor struct {
	command         string
	args            []string
	extraArgs       []string
	env             []string
	stderr          io.Writer
	shutdownTimeout time.Duration
	queueOpts       []dispatch.Option

	mu     sync.Mutex
	state  State
	cmd    *exec.Cmd
	reqW   *os.File
	respR  *os.File
	queue  *dispatch.Queue
	exited chan struct{}

	waitErr error
}

func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		stderr:          os.Stderr,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Queue returns the dispatch queue, or nil before Start.
func (s *Supervisor) Queue() *dispatch.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue
}

// Pid returns the worker's process id, or 0 when none is running.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil || s.state != StateRunning {
		return 0
	}
	return s.cmd.Process.Pid
}

// Start creates the pipes, spawns the worker and returns the queue that
// talks to it. ctx bounds the worker's lifetime: cancelling it kills the
// worker, which kills the channel. Any failure leaves the supervisor Dead
// and wraps ErrChannelSetup.
func (s *Supervisor) Start(ctx context.Context) (*dispatch.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return nil, ErrAlreadyStarted
	}

	q, err := s.startLocked(ctx)
	if err != nil {
		s.state = StateDead
		return nil, fmt.Errorf("%w: %w", ErrChannelSetup, err)
	}
	s.state = StateRunning
	return q, nil
}

func (s *Supervisor) startLocked(ctx context.Context) (*dispatch.Queue, error) {
	command, args := s.command, s.args
	if command == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving worker executable: %w", err)
		}
		command, args = self, []string{WorkerSubcommand}
	}
	args = append(append([]string(nil), args...), s.extraArgs...)

	// Requests flow parent -> child, responses child -> parent.
	reqR, reqW, err := newPipe(false)
	if err != nil {
		return nil, fmt.Errorf("creating request pipe: %w", err)
	}
	respW, respR, err := newPipe(true)
	if err != nil {
		reqR.Close()
		reqW.Close()
		return nil, fmt.Errorf("creating response pipe: %w", err)
	}

	slog.Debug("Starting render worker", "command", command, "args", args)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(os.Environ(), s.env...)
	cmd.Stdin = reqR
	cmd.Stdout = respW
	cmd.Stderr = s.stderr
	configureCommand(cmd)

	if err := cmd.Start(); err != nil {
		reqR.Close()
		reqW.Close()
		respR.Close()
		respW.Close()
		return nil, fmt.Errorf("starting worker: %w", err)
	}

	// The child holds its own copies; keeping ours open would hide EOF.
	reqR.Close()
	respW.Close()

	s.cmd = cmd
	s.reqW = reqW
	s.respR = respR
	s.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.mu.Unlock()
		close(s.exited)
	}()

	opts := append(append([]dispatch.Option(nil), s.queueOpts...), dispatch.WithOnDeath(s.onDeath))
	s.queue = dispatch.New(respR, reqW, opts...)

	slog.Debug("Render worker started", "pid", cmd.Process.Pid)
	return s.queue, nil
}

// onDeath runs on the dispatcher goroutine when the channel dies.
func (s *Supervisor) onDeath(err error) {
	s.mu.Lock()
	s.state = StateDead
	reqW, respR := s.reqW, s.respR
	s.reqW, s.respR = nil, nil
	exited := s.exited
	s.mu.Unlock()

	closeQuietly(reqW)
	closeQuietly(respR)

	slog.Debug("Render worker channel dead", "reason", err)

	// The worker exits once it sees EOF on its requests. Reap it without
	// holding up the dispatcher.
	go s.reap(exited)
}

func (s *Supervisor) reap(exited chan struct{}) {
	if exited == nil {
		return
	}
	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-exited:
	case <-timer.C:
		slog.Warn("Render worker did not exit, killing it")
		s.kill()
		<-exited
	}
}

func (s *Supervisor) kill() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Close terminates the worker: it closes the request pipe so the worker
// drains and exits, waits up to the shutdown timeout (or until ctx is done),
// then kills it. Requests still outstanding resolve to nil. Close waits for
// the queue to finish resolving them.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateUninitialized:
		s.state = StateDead
		s.mu.Unlock()
		return nil
	case StateDead:
		if s.queue == nil {
			s.mu.Unlock()
			return nil
		}
	}
	reqW := s.reqW
	s.reqW = nil
	exited := s.exited
	queue := s.queue
	s.mu.Unlock()

	closeQuietly(reqW)

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
		slog.Warn("Render worker ignored shutdown, killing it")
		s.kill()
		<-exited
	case <-ctx.Done():
		s.kill()
		<-exited
	}
	<-queue.Done()

	s.mu.Lock()
	err := s.waitErr
	s.mu.Unlock()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed or non-zero exit after we asked it to stop.
		slog.Debug("Render worker exited", "status", exitErr.String())
		return nil
	}
	return err
}

func closeQuietly(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}
