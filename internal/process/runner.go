package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/target"
	"github.com/tetratelabs/wazero"
)

// RunEntry is the entry point invoked for every step of a target's run
// pipeline. The step name travels in the payload.
const RunEntry = "run"

// Exit codes of a check entry point.
const (
	checkCompleted    = 0
	checkNotCompleted = 1
)

// maxStderr caps how much of a failing script's stderr ends up in the error.
const maxStderr = 4 << 10

// Config configures a Runner.
type Config struct {
	// DefaultScript is used for targets that declare no process script. A
	// value containing a path separator is resolved against the working
	// directory; a bare name is looked up in $PATH.
	DefaultScript string
	// Env is appended to the environment of every invocation. Wasm modules
	// see only the DEPLOYGRID_* variables and Env.
	Env []string
	// Timeout bounds a single entry point invocation. Zero means no limit.
	Timeout time.Duration
}

// Runner invokes process script entry points. It binds targets to their run
// pipeline and completion predicate, and runs lifecycle hooks. Safe for
// concurrent use.
type Runner struct {
	cfg Config

	wasmOnce sync.Once
	wasm     wazero.Runtime
	mu       sync.Mutex
	modules  map[string]wazero.CompiledModule
}

// New creates a runner.
func New(cfg Config) *Runner {
	return &Runner{cfg: cfg, modules: make(map[string]wazero.CompiledModule)}
}

// Result is the outcome of one entry point invocation.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ExitError reports a non-zero exit of an entry point.
type ExitError struct {
	Script string
	Entry  string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("entry %q of %s exited with code %d", e.Entry, e.Script, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Bind implements target.Binder.
func (r *Runner) Bind(spec target.Spec) ([]target.Step, target.CompletionFunc, error) {
	script := spec.Process
	if script == nil {
		if r.cfg.DefaultScript == "" {
			return nil, nil, fmt.Errorf("target %s declares no process script and no default script is configured", spec.Identity)
		}
		script = &target.ProcessScript{Path: r.cfg.DefaultScript}
		if strings.ContainsRune(script.Path, filepath.Separator) {
			if abs, err := filepath.Abs(script.Path); err == nil {
				script.Resolved = abs
			}
		}
	}

	run := func(ctx context.Context, inv target.Invocation) (json.RawMessage, error) {
		res, err := r.Invoke(ctx, script, RunEntry, inv)
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return nil, exitError(script, RunEntry, res)
		}
		return decodeResult(script, res.Stdout)
	}

	var steps []target.Step
	if len(spec.Links) > 0 {
		steps = append(steps, target.Step{Name: "link", Do: run})
	}
	steps = append(steps, target.Step{Name: "deploy", Do: run})

	completion := target.CompletionFunc(target.AlwaysCompleted)
	if script.Check != "" {
		completion = func(ctx context.Context, inv target.Invocation) (bool, error) {
			res, err := r.Invoke(ctx, script, script.Check, inv)
			if err != nil {
				return false, err
			}
			switch res.ExitCode {
			case checkCompleted:
				return true, nil
			case checkNotCompleted:
				return false, nil
			default:
				return false, exitError(script, script.Check, res)
			}
		}
	}
	return steps, completion, nil
}

// RunHook implements target.Hooks.
func (r *Runner) RunHook(ctx context.Context, script *target.ProcessScript, entry string, inv target.Invocation) error {
	res, err := r.Invoke(ctx, script, entry, inv)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return exitError(script, entry, res)
	}
	return nil
}

// Invoke runs a single entry point with the invocation as JSON on stdin. A
// non-zero exit is reported in the result, not as an error.
func (r *Runner) Invoke(ctx context.Context, script *target.ProcessScript, entry string, inv target.Invocation) (Result, error) {
	payload, err := json.Marshal(inv)
	if err != nil {
		return Result{}, fmt.Errorf("encoding invocation for %s: %w", script.Path, err)
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Invoking process script.", "script", script.Path, "entry", entry, "step", inv.Step)
	start := time.Now()

	path := script.Executable()
	var res Result
	if isWasm(path) {
		res, err = r.invokeWasm(ctx, path, entry, payload, inv)
	} else {
		res, err = r.invokeExec(ctx, path, entry, payload, inv)
	}
	if err != nil {
		return Result{}, err
	}
	logger.Debug("Process script returned.", "script", script.Path, "entry", entry,
		"exit_code", res.ExitCode, "duration", time.Since(start))
	return res, nil
}

// Close releases the wasm runtime, if one was started.
func (r *Runner) Close(ctx context.Context) error {
	if r.wasm == nil {
		return nil
	}
	return r.wasm.Close(ctx)
}

func exitError(script *target.ProcessScript, entry string, res Result) error {
	stderr := bytes.TrimSpace(res.Stderr)
	if len(stderr) > maxStderr {
		stderr = stderr[len(stderr)-maxStderr:]
	}
	return &ExitError{Script: script.Path, Entry: entry, Code: res.ExitCode, Stderr: string(stderr)}
}

func decodeResult(script *target.ProcessScript, stdout []byte) (json.RawMessage, error) {
	out := bytes.TrimSpace(stdout)
	if len(out) == 0 {
		return nil, nil
	}
	if !json.Valid(out) {
		return nil, fmt.Errorf("entry %q of %s printed invalid JSON: %.200s", RunEntry, script.Path, out)
	}
	return json.RawMessage(out), nil
}

func isWasm(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".wasm")
}
