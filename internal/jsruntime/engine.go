package jsruntime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

const (
	defaultPoolSize = 4
	defaultTimeout  = 100 * time.Millisecond
)

// errDeadline marks interrupts raised by the per-execution timer.
var errDeadline = errors.New("validator deadline exceeded")

// Options configures an Engine.
type Options struct {
	// PoolSize is the number of runtimes kept for concurrent execution.
	PoolSize int
	// Timeout bounds each script run. Validators gate the scan hot path,
	// so the budget is deliberately small.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Engine compiles validator scripts and runs them against pooled runtimes.
type Engine struct {
	pool    *Pool
	timeout time.Duration
	logger  *zap.Logger
}

// NewEngine creates an engine with the given options. Zero values fall back
// to defaults.
func NewEngine(opts Options) (*Engine, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	pool, err := NewPool(opts.PoolSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		pool:    pool,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}, nil
}

// Close releases the runtime pool.
func (e *Engine) Close() error {
	return e.pool.Close()
}

// CompileValidator compiles src as a validator script. The script's
// completion value decides the match: truthy keeps it, falsy discards it.
// Syntax errors surface here rather than at scan time.
func (e *Engine) CompileValidator(name, src string) (*Script, error) {
	prog, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, NewJsError(ErrorCodeSyntaxError, err.Error())
	}
	return &Script{name: name, prog: prog, engine: e}, nil
}

// Script is a compiled validator bound to its engine.
type Script struct {
	name   string
	prog   *goja.Program
	engine *Engine
}

// Name returns the script's compile-time name.
func (s *Script) Name() string {
	return s.name
}

// Validate runs the script with `match` and `context` bound as globals and
// coerces the completion value to a boolean. Execution is interrupted when
// the engine timeout elapses or ctx is cancelled.
func (s *Script) Validate(ctx context.Context, match, scope string) (bool, error) {
	vm, err := s.engine.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer s.engine.pool.Release(vm)

	setupSandbox(vm)
	if err := vm.Set("match", match); err != nil {
		return false, NewJsError(ErrorCodeRuntimeError, fmt.Sprintf("failed to set match: %v", err))
	}
	if err := vm.Set("context", scope); err != nil {
		return false, NewJsError(ErrorCodeRuntimeError, fmt.Sprintf("failed to set context: %v", err))
	}

	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()
	timer := time.AfterFunc(s.engine.timeout, func() { vm.Interrupt(errDeadline) })
	defer timer.Stop()

	value, err := vm.RunProgram(s.prog)
	if err != nil {
		return false, translateRunError(err)
	}
	return value.ToBoolean(), nil
}

// ValidatorHook adapts the script to a pattern validator hook. Script
// failures keep the match: a broken or hostile validator must not become a
// detection bypass.
func (s *Script) ValidatorHook() func(match, context string) bool {
	return func(match, scope string) bool {
		ok, err := s.Validate(context.Background(), match, scope)
		if err != nil {
			s.engine.logger.Warn("validator script failed, keeping match",
				zap.String("script", s.name),
				zap.Error(err))
			return true
		}
		return ok
	}
}

func translateRunError(err error) error {
	if intr, ok := err.(*goja.InterruptedError); ok {
		if cause, ok := intr.Value().(error); ok && errors.Is(cause, context.Canceled) {
			return NewJsError(ErrorCodeCancelled, "validator cancelled")
		}
		return NewJsError(ErrorCodeTimeout, "validator timed out")
	}
	if exc, ok := err.(*goja.Exception); ok {
		return NewJsErrorWithStack(ErrorCodeRuntimeError, exc.Error(), exc.String())
	}
	return NewJsError(ErrorCodeRuntimeError, err.Error())
}

// setupSandbox strips the host-like surface from a runtime. Goja exposes no
// filesystem, network, or process access by default; this removes the timer
// and module hooks as well.
func setupSandbox(vm *goja.Runtime) {
	vm.Set("require", goja.Undefined())
	vm.Set("setTimeout", goja.Undefined())
	vm.Set("setInterval", goja.Undefined())
	vm.Set("clearTimeout", goja.Undefined())
	vm.Set("clearInterval", goja.Undefined())
}
