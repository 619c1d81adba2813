package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/specialistvlad/deploygrid/internal/target"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// invokeWasm runs a WASI module in-process with the same argv, stdin and
// stdout contract as a native script. Modules get no filesystem or network.
func (r *Runner) invokeWasm(ctx context.Context, path, entry string, payload []byte, inv target.Invocation) (Result, error) {
	compiled, err := r.compile(ctx, path)
	if err != nil {
		return Result{}, err
	}

	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(path, entry).
		WithStdin(bytes.NewReader(payload)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithStartFunctions("_start")
	for _, kv := range r.environ(inv) {
		if k, v, ok := strings.Cut(kv, "="); ok {
			cfg = cfg.WithEnv(k, v)
		}
	}

	res := Result{}
	mod, err := r.wasm.InstantiateModule(ctx, compiled, cfg)
	if mod != nil {
		defer func() { _ = mod.Close(ctx) }()
	}
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) {
			if ctx.Err() != nil {
				return Result{}, fmt.Errorf("entry %q of %s: %w", entry, path, ctx.Err())
			}
			return Result{}, fmt.Errorf("running wasm module %s: %w", path, err)
		}
		res.ExitCode = int(exitErr.ExitCode())
	}
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	return res, nil
}

// compile returns the cached compiled module for path, compiling it on first
// use.
func (r *Runner) compile(ctx context.Context, path string) (wazero.CompiledModule, error) {
	r.wasmOnce.Do(func() {
		base := context.WithoutCancel(ctx)
		r.wasm = wazero.NewRuntimeWithConfig(base, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
		wasi_snapshot_preview1.MustInstantiate(base, r.wasm)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.modules[path]; ok {
		return m, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading wasm module: %w", err)
	}
	m, err := r.wasm.CompileModule(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("compiling wasm module %s: %w", path, err)
	}
	r.modules[path] = m
	return m, nil
}
