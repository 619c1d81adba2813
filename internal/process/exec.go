package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/specialistvlad/deploygrid/internal/target"
)

func (r *Runner) invokeExec(ctx context.Context, path, entry string, payload []byte, inv target.Invocation) (Result, error) {
	cmd := exec.CommandContext(ctx, path, entry)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), r.environ(inv)...)

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("entry %q of %s: %w", entry, path, ctx.Err())
	}
	return Result{}, fmt.Errorf("starting %s: %w", path, err)
}

// environ returns the DEPLOYGRID_* variables of inv followed by Env.
func (r *Runner) environ(inv target.Invocation) []string {
	env := []string{
		"DEPLOYGRID_CONTRACT=" + inv.Contract,
		"DEPLOYGRID_NETWORK=" + inv.Network,
		"DEPLOYGRID_DEPLOY_SET=" + inv.DeploySet,
		"DEPLOYGRID_STEP=" + inv.Step,
	}
	return append(env, r.cfg.Env...)
}
