package adapter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"maestro/internal/logging"
)

// CircuitProbe answers whether an adapter's circuit currently admits
// traffic. The supervisor owns the breaker state; the executor only reads.
type CircuitProbe interface {
	// Allows reports whether the adapter may receive a request. Half-open
	// circuits admit exactly one probe per call site.
	Allows(adapterID string) bool
}

// AttemptReporter receives per-attempt outcomes during the fallback walk.
// The supervisor implements it next to CircuitProbe so an adapter that keeps
// failing feeds its breaker even when a later adapter rescues the role.
type AttemptReporter interface {
	RecordFailure(adapterID string)
	RecordSuccess(adapterID string)
}

// alwaysClosed is the probe used when no supervisor is wired (tests, CLI
// one-shots).
type alwaysClosed struct{}

func (alwaysClosed) Allows(string) bool { return true }

// Request is one role invocation to run against the catalogue.
type Request struct {
	Prompt           string
	Role             string
	PreferredAdapter string
	SkipAdapters     []string
	Timeout          time.Duration
}

// Result is a successful invocation.
type Result struct {
	Output    string
	AdapterID string
	Duration  time.Duration
}

// Runner abstracts process execution so tests can substitute outcomes
// without spawning subprocesses.
type Runner interface {
	Run(ctx context.Context, cfg AdapterConfig, prompt string) (string, error)
}

// Executor walks the catalogue in fallback order until a candidate
// produces non-empty output.
type Executor struct {
	catalogue []AdapterConfig
	probe     CircuitProbe
	reporter  AttemptReporter
	runner    Runner
	logger    logging.Logger

	mu       sync.Mutex
	children map[int]*exec.Cmd
}

// Option configures an Executor.
type Option func(*Executor)

// WithCircuitProbe wires the supervisor's breaker view.
func WithCircuitProbe(p CircuitProbe) Option {
	return func(e *Executor) {
		if p != nil {
			e.probe = p
		}
	}
}

// WithRunner replaces subprocess execution, for tests.
func WithRunner(r Runner) Option {
	return func(e *Executor) {
		if r != nil {
			e.runner = r
		}
	}
}

// NewExecutor builds an executor over the catalogue's adapters, in catalogue
// order.
func NewExecutor(cat *Catalogue, logger logging.Logger, opts ...Option) *Executor {
	e := &Executor{
		catalogue: append([]AdapterConfig(nil), cat.Adapters...),
		probe:     alwaysClosed{},
		logger:    logging.OrNop(logger),
		children:  make(map[int]*exec.Cmd),
	}
	e.runner = &processRunner{executor: e}
	for _, opt := range opts {
		opt(e)
	}
	if r, ok := e.probe.(AttemptReporter); ok {
		e.reporter = r
	}
	return e
}

// Adapters returns the configured adapter ids in fallback order.
func (e *Executor) Adapters() []string {
	out := make([]string, len(e.catalogue))
	for i, a := range e.catalogue {
		out[i] = a.ID
	}
	return out
}

// Execute tries candidates in order: the preferred adapter first when its
// circuit admits it, then the remaining catalogue order. Skipped and
// circuit-rejected adapters are passed over silently; execution failures are
// recorded and the walk continues.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	skip := make(map[string]bool, len(req.SkipAdapters))
	for _, id := range req.SkipAdapters {
		skip[id] = true
	}

	candidates := e.order(req.PreferredAdapter)
	var attempts []AttemptError
	tried := 0

	for _, cfg := range candidates {
		if skip[cfg.ID] {
			continue
		}
		if !e.probe.Allows(cfg.ID) {
			e.logger.Debug("adapter %s circuit rejects traffic, skipping", cfg.ID)
			continue
		}
		tried++

		runCtx := ctx
		cancel := context.CancelFunc(func() {})
		if req.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		}
		start := time.Now()
		output, err := e.runner.Run(runCtx, cfg, req.Prompt)
		cancel()
		elapsed := time.Since(start)

		if err == nil && strings.TrimSpace(output) == "" {
			err = fmt.Errorf("empty output")
		}
		if err != nil {
			e.logger.Warn("adapter %s failed for role %s after %s: %v", cfg.ID, req.Role, elapsed.Round(time.Millisecond), err)
			attempts = append(attempts, AttemptError{AdapterID: cfg.ID, Err: err})
			if ctx.Err() != nil {
				break
			}
			if e.reporter != nil {
				e.reporter.RecordFailure(cfg.ID)
			}
			continue
		}

		e.logger.Info("adapter %s served role %s in %s", cfg.ID, req.Role, elapsed.Round(time.Millisecond))
		if e.reporter != nil {
			e.reporter.RecordSuccess(cfg.ID)
		}
		return Result{Output: output, AdapterID: cfg.ID, Duration: elapsed}, nil
	}

	if tried == 0 {
		attempts = append(attempts, AttemptError{AdapterID: "", Err: ErrNoCandidates})
	}
	return Result{}, &AllAdaptersFailedError{Role: req.Role, Attempts: attempts}
}

func (e *Executor) order(preferred string) []AdapterConfig {
	if preferred == "" {
		return e.catalogue
	}
	out := make([]AdapterConfig, 0, len(e.catalogue))
	for _, a := range e.catalogue {
		if a.ID == preferred {
			out = append(out, a)
		}
	}
	for _, a := range e.catalogue {
		if a.ID != preferred {
			out = append(out, a)
		}
	}
	return out
}

// Shutdown kills every still-running child process. Safe to call more than
// once.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for pid, cmd := range e.children {
		if cmd.Process != nil {
			e.logger.Warn("killing adapter child pid %d", pid)
			_ = cmd.Process.Kill()
		}
		delete(e.children, pid)
	}
}

func (e *Executor) track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	e.mu.Lock()
	e.children[cmd.Process.Pid] = cmd
	e.mu.Unlock()
}

func (e *Executor) untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	e.mu.Lock()
	delete(e.children, cmd.Process.Pid)
	e.mu.Unlock()
}

// processRunner is the real subprocess runner.
type processRunner struct {
	executor *Executor
}

func (r *processRunner) Run(ctx context.Context, cfg AdapterConfig, prompt string) (string, error) {
	name, args := cfg.commandLine(prompt)
	cmd := exec.CommandContext(ctx, name, args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if cfg.PromptVia == PromptViaStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", cfg.ID, err)
	}
	r.executor.track(cmd)
	err := cmd.Wait()
	r.executor.untrack(cmd)

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("deadline exceeded")
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = "no stderr"
			}
			return "", fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), detail)
		}
		return "", err
	}
	return stdout.String(), nil
}
