package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/masyavpn/masyavpn/common"
)

// Handle is a running engine process.
type Handle interface {
	Name() string
	Pid() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Terminate requests termination and returns without waiting for exit.
	Terminate()
}

// Matcher reports whether an output line completes the readiness handshake.
// A Matcher may keep state across lines and is called from one goroutine.
type Matcher func(line string) bool

// ContainsFold matches the first line containing marker, ignoring case.
func ContainsFold(marker string) Matcher {
	marker = strings.ToLower(marker)
	return func(line string) bool {
		return strings.Contains(strings.ToLower(line), marker)
	}
}

// AllTokens matches once every token has appeared in some output line.
func AllTokens(tokens ...string) Matcher {
	seen := make(map[string]bool, len(tokens))
	return func(line string) bool {
		for _, tok := range tokens {
			if strings.Contains(line, tok) {
				seen[tok] = true
			}
		}
		return len(seen) == len(tokens)
	}
}

// maxCapturedLines bounds the output kept for readiness matching and error
// reports.
const maxCapturedLines = 200

// Process is a supervised child process. Its stdout and stderr are logged
// line by line and captured until readiness is established.
type Process struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	lines    []string
	dropped  int
	capture  bool
	exited   bool
	exitErr  error
	changed  chan struct{}
	termOnce sync.Once
}

// StartProcess launches path with args. The working directory is the
// binary's directory so engines find their data files.
func StartProcess(name, path string, args ...string) (*Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Dir = filepath.Dir(path)
	common.HideConsole(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	p := &Process{
		name:    name,
		cmd:     cmd,
		done:    make(chan struct{}),
		capture: true,
		changed: make(chan struct{}),
	}

	common.LogInfo("%s: starting %s %s", name, path, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	common.LogInfo("%s: process started with PID %d", name, cmd.Process.Pid)

	var wg sync.WaitGroup
	wg.Add(2)
	go p.monitorOutput(stdout, &wg)
	go p.monitorOutput(stderr, &wg)

	go func() {
		// Pipes must be drained before Wait.
		wg.Wait()
		err := cmd.Wait()
		common.LogInfo("%s: exited: %v", name, exitDescription(err))

		p.mu.Lock()
		p.exited = true
		p.exitErr = err
		p.notifyLocked()
		p.mu.Unlock()
		close(p.done)
	}()

	return p, nil
}

func exitDescription(err error) string {
	if err == nil {
		return "code 0"
	}
	return err.Error()
}

// monitorOutput logs every line and records it while capture is on.
func (p *Process) monitorOutput(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		common.LogDebug("%s: %s", p.name, line)

		p.mu.Lock()
		if p.capture {
			if len(p.lines) == maxCapturedLines {
				p.lines = p.lines[1:]
				p.dropped++
			}
			p.lines = append(p.lines, line)
			p.notifyLocked()
		}
		p.mu.Unlock()
	}

	// An overlong line stops the scanner. Keep draining so the engine never
	// blocks on a full pipe.
	if err := scanner.Err(); err != nil {
		common.LogWarn("%s: output no longer logged: %v", p.name, err)
		io.Copy(io.Discard, r)
	}
}

func (p *Process) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// since returns captured lines starting at absolute index next, a channel
// closed on the next change, and whether the process has exited.
func (p *Process) since(next int) ([]string, int, <-chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := next - p.dropped
	if start < 0 {
		start = 0
	}
	var out []string
	if start < len(p.lines) {
		out = append(out, p.lines[start:]...)
	}
	return out, p.dropped + len(p.lines), p.changed, p.exited
}

// stopCapture releases the captured output once it is no longer needed.
func (p *Process) stopCapture() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.capture = false
	p.lines = nil
}

// Output returns the captured output joined by newlines.
func (p *Process) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.lines, "\n")
}

// Name returns the engine name used in logs.
func (p *Process) Name() string { return p.name }

// Pid returns the OS process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitErr returns the result of Wait after Done is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Terminate signals the process once and returns immediately.
func (p *Process) Terminate() {
	p.termOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		common.LogInfo("%s: terminating PID %d", p.name, p.Pid())
		if err := terminate(p.cmd.Process); err != nil {
			common.LogDebug("%s: terminate: %v", p.name, err)
		}
	})
}

// waitForReady blocks until match accepts an output line of p, p exits, the
// timeout elapses or ctx is done. Every failure is ErrEngineStartFailed and
// carries the captured output.
func waitForReady(ctx context.Context, p *Process, match Matcher, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	next := 0
	for {
		lines, total, changed, exited := p.since(next)
		next = total
		for _, line := range lines {
			if match(line) {
				common.LogInfo("%s: ready", p.name)
				p.stopCapture()
				return nil
			}
		}

		if exited {
			return fmt.Errorf("%w: %s exited before becoming ready (%s): %s",
				common.ErrEngineStartFailed, p.name, exitDescription(p.ExitErr()), p.Output())
		}

		select {
		case <-changed:
		case <-timer.C:
			return fmt.Errorf("%w: %s not ready after %v: %s",
				common.ErrEngineStartFailed, p.name, timeout, p.Output())
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", common.ErrEngineStartFailed, p.name, ctx.Err())
		}
	}
}
