package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Spec identifies one worker instance.
type Spec struct {
	Scope      string
	BotType    string
	InstanceID string
}

// Handle is a running worker instance.
type Handle interface {
	// Heartbeats delivers one value per liveness signal.
	Heartbeats() <-chan time.Time
	// Done is closed when the instance has exited; Err is valid afterwards.
	Done() <-chan struct{}
	Err() error
	// Signal asks the instance to shut down gracefully.
	Signal() error
	Kill() error
}

type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}

// ExecLauncher spawns the worker binary. Each stdout line equal to
// "heartbeat" counts as a heartbeat; stderr is passed through.
type ExecLauncher struct {
	// Command is an argv template; "{scope}" and "{bot_type}" are substituted.
	Command []string
	Env     []string
	Stderr  io.Writer
	Logger  *zap.Logger
}

func (l *ExecLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if l == nil || len(l.Command) == 0 {
		return nil, fmt.Errorf("worker command not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	argv := make([]string, len(l.Command))
	for i, a := range l.Command {
		a = strings.ReplaceAll(a, "{scope}", spec.Scope)
		a = strings.ReplaceAll(a, "{bot_type}", spec.BotType)
		argv[i] = a
	}
	// Not CommandContext: the process must outlive the launch call.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(append(os.Environ(), l.Env...), "ST_WORKER_INSTANCE="+spec.InstanceID)
	if l.Stderr != nil {
		cmd.Stderr = l.Stderr
	} else {
		cmd.Stderr = os.Stderr
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", argv[0], err)
	}
	h := &procHandle{
		cmd:  cmd,
		hb:   make(chan time.Time, 16),
		done: make(chan struct{}),
	}
	go func() {
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			if strings.TrimSpace(sc.Text()) == "heartbeat" {
				select {
				case h.hb <- time.Now():
				default:
				}
			}
		}
		err := cmd.Wait()
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	}()
	if l.Logger != nil {
		l.Logger.Info("worker spawned",
			zap.String("scope", spec.Scope),
			zap.String("instance_id", spec.InstanceID),
			zap.Int("pid", cmd.Process.Pid),
		)
	}
	return h, nil
}

type procHandle struct {
	cmd  *exec.Cmd
	hb   chan time.Time
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (h *procHandle) Heartbeats() <-chan time.Time { return h.hb }
func (h *procHandle) Done() <-chan struct{}        { return h.done }

func (h *procHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *procHandle) Signal() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *procHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// FuncLauncher runs workers in-process. Run must return once ctx is done and
// call beat to report liveness.
type FuncLauncher struct {
	Run func(ctx context.Context, spec Spec, beat func()) error
}

func (l FuncLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if l.Run == nil {
		return nil, fmt.Errorf("func launcher has no run function")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	h := &funcHandle{
		cancel: cancel,
		hb:     make(chan time.Time, 16),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		defer cancel()
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker panicked: %v", r)
				}
			}()
			err = l.Run(runCtx, spec, func() {
				select {
				case h.hb <- time.Now():
				default:
				}
			})
		}()
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
	}()
	return h, nil
}

type funcHandle struct {
	cancel context.CancelFunc
	hb     chan time.Time
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (h *funcHandle) Heartbeats() <-chan time.Time { return h.hb }
func (h *funcHandle) Done() <-chan struct{}        { return h.done }

func (h *funcHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *funcHandle) Signal() error { h.cancel(); return nil }
func (h *funcHandle) Kill() error   { h.cancel(); return nil }
