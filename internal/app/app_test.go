package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/specialistvlad/deploygrid/internal/dag"
	"github.com/specialistvlad/deploygrid/internal/declaration"
	"github.com/specialistvlad/deploygrid/internal/inmemorystore"
	"github.com/specialistvlad/deploygrid/internal/scheduler"
	"github.com/specialistvlad/deploygrid/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScript = `#!/bin/sh
dir=$(dirname "$0")
cat > /dev/null
case "$1" in
  run)
    echo "$DEPLOYGRID_NETWORK:$DEPLOYGRID_CONTRACT" >> "$dir/deployed.log"
    printf '{"address":"0x%s"}' "$DEPLOYGRID_CONTRACT"
    ;;
  *)
    echo "$1" >> "$dir/hooks.log"
    ;;
esac
`

const testDeclaration = `
core:
  mainnet:
    - contract: Registry
      process:
        path: deploy.sh
        before: setup
        after: teardown
    - contract: Token
      dependsOn: [Registry]
      options: ["gasLimit=3000000"]
      process:
        path: deploy.sh
        before: setup
        after: teardown
`

// writeProject lays out a declaration and its process script in a temp dir.
func writeProject(t *testing.T, declaration string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy.sh"), []byte(testScript), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy.yaml"), []byte(declaration), 0o644))
	return dir
}

func testConfig(dir string) *Config {
	cfg := DefaultConfig()
	cfg.Paths = []string{dir}
	cfg.StateURL = "sqlite://" + filepath.Join(dir, ".deploygrid", "state.db")
	return &cfg
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return strings.Fields(string(raw))
}

func TestRun_EndToEnd(t *testing.T) {
	dir := writeProject(t, testDeclaration)
	a, logs := SetupAppTest(t, testConfig(dir))
	ctx := context.Background()

	report, err := a.Run(ctx)
	require.NoError(t, err)
	require.True(t, report.OK())
	assert.Equal(t, []string{"mainnet:Registry", "mainnet:Token"}, readLines(t, filepath.Join(dir, "deployed.log")))
	assert.Equal(t, []string{"setup", "teardown"}, readLines(t, filepath.Join(dir, "hooks.log")))
	assert.Contains(t, logs.String(), "Deployment finished.")

	token, ok := report.Target(target.Identity{Contract: "Token", Network: "mainnet"})
	require.True(t, ok)
	assert.JSONEq(t, `{"address":"0xToken"}`, string(token.Result))

	// Second run replays everything and runs no hooks.
	report, err = a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Executed())
	assert.Len(t, readLines(t, filepath.Join(dir, "deployed.log")), 2)
	assert.Len(t, readLines(t, filepath.Join(dir, "hooks.log")), 2)

	rec, found, err := a.Record(ctx, target.Identity{Contract: "Token", Network: "mainnet"})
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec.Completed)

	// Invalidating Registry re-runs it and its dependent.
	require.NoError(t, a.Invalidate(ctx, target.Identity{Contract: "Registry", Network: "mainnet"}))
	report, err = a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Executed())
	assert.Len(t, readLines(t, filepath.Join(dir, "deployed.log")), 4)
}

func TestRun_DeclarationInWorkingDirectory(t *testing.T) {
	dir := writeProject(t, testDeclaration)
	cfg := testConfig(dir)
	t.Chdir(dir)
	cfg.Paths = []string{"deploy.yaml"}
	a, _ := SetupAppTest(t, cfg)

	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Executed())
	assert.Equal(t, []string{"mainnet:Registry", "mainnet:Token"}, readLines(t, filepath.Join(dir, "deployed.log")))
}

func TestRun_ReplaysAcrossDeclarationPathSpellings(t *testing.T) {
	dir := writeProject(t, testDeclaration)
	cfg := testConfig(dir)
	a, _ := SetupAppTest(t, cfg)
	useStore(a, inmemorystore.New())
	ctx := context.Background()

	report, err := a.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Executed())

	t.Chdir(filepath.Dir(dir))
	cfg.Paths = []string{filepath.Base(dir) + string(filepath.Separator)}
	report, err = a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Executed())
	assert.Len(t, readLines(t, filepath.Join(dir, "deployed.log")), 2)
}

func TestRun_ScriptFailure(t *testing.T) {
	dir := writeProject(t, `
core:
  mainnet:
    - contract: Broken
      process: { path: fail.sh }
    - contract: Token
      dependsOn: [Broken]
      process: { path: deploy.sh }
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fail.sh"), []byte("#!/bin/sh\ncat >/dev/null\necho 'execution reverted' >&2\nexit 1\n"), 0o755))
	a, _ := SetupAppTest(t, testConfig(dir))

	report, err := a.Run(context.Background())
	var runErr *scheduler.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Len(t, runErr.Failed, 1)
	assert.Len(t, runErr.Blocked, 1)
	assert.ErrorContains(t, err, "execution reverted")
	assert.False(t, report.OK())
	assert.Empty(t, readLines(t, filepath.Join(dir, "deployed.log")))
}

func TestRun_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		declaration string
		check       func(t *testing.T, err error)
	}{
		{
			name:        "malformed",
			declaration: "core:\n  mainnet:\n    - contract: 42\n",
			check: func(t *testing.T, err error) {
				var want *declaration.MalformedDeclarationError
				require.ErrorAs(t, err, &want)
				assert.Equal(t, "core/mainnet/0/contract", want.Path)
			},
		},
		{
			name:        "unresolved",
			declaration: "core:\n  mainnet:\n    - contract: Token\n      dependsOn: [Missing]\n      process: {path: deploy.sh}\n",
			check: func(t *testing.T, err error) {
				var want *dag.UnresolvedDependencyError
				require.ErrorAs(t, err, &want)
			},
		},
		{
			name: "cycle",
			declaration: `
core:
  mainnet:
    - {contract: A, dependsOn: [B], process: {path: deploy.sh}}
    - {contract: B, dependsOn: [A], process: {path: deploy.sh}}
`,
			check: func(t *testing.T, err error) {
				var want *dag.CyclicDependencyError
				require.ErrorAs(t, err, &want)
			},
		},
		{
			name:        "no process script",
			declaration: "core:\n  mainnet:\n    - contract: Token\n",
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "no default script is configured")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeProject(t, tc.declaration)
			a, _ := SetupAppTest(t, testConfig(dir))
			report, err := a.Run(context.Background())
			require.Error(t, err)
			assert.Nil(t, report)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			tc.check(t, err)
			assert.NoFileExists(t, filepath.Join(dir, ".deploygrid", "state.db"), "nothing is opened before validation passes")
		})
	}
}

func TestPlan(t *testing.T) {
	dir := writeProject(t, testDeclaration)
	cfg := testConfig(dir)
	a, _ := SetupAppTest(t, cfg)
	store := inmemorystore.New()
	useStore(a, store)
	ctx := context.Background()

	planned, err := a.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, planned, 2)
	assert.Equal(t, "Registry", planned[0].Identity.Contract)
	assert.False(t, planned[0].Replay)

	_, err = a.Run(ctx)
	require.NoError(t, err)

	planned, err = a.Plan(ctx)
	require.NoError(t, err)
	for _, p := range planned {
		assert.True(t, p.Replay, p.Identity.String())
	}
	assert.Len(t, readLines(t, filepath.Join(dir, "deployed.log")), 2, "planning runs nothing")
}

func TestRun_EmptyDeclaration(t *testing.T) {
	dir := writeProject(t, "core: {}\n")
	a, logs := SetupAppTest(t, testConfig(dir))
	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Targets)
	assert.Contains(t, logs.String(), "No targets found")
}

func TestHandler(t *testing.T) {
	a, _ := SetupAppTest(t, &Config{})
	srv := httptest.NewServer(a.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	a.metrics.TargetFinished("completed", false)
	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body := new(strings.Builder)
	_, err = io.Copy(body, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "deploygrid_targets_total")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := OpenStore(ctx, "memory://")
		require.NoError(t, err)
		assert.IsType(t, &inmemorystore.Store{}, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenStore(ctx, "sqlite://"+filepath.Join(t.TempDir(), "nested", "state.db"))
		require.NoError(t, err)
		require.NoError(t, s.Close())
	})

	t.Run("badger", func(t *testing.T) {
		s, err := OpenStore(ctx, "badger://"+t.TempDir())
		require.NoError(t, err)
		require.NoError(t, s.Close())
	})

	t.Run("errors", func(t *testing.T) {
		_, err := OpenStore(ctx, "state.db")
		assert.ErrorContains(t, err, "no scheme")
		_, err = OpenStore(ctx, "etcd://localhost:2379")
		assert.ErrorContains(t, err, "unsupported state backend")
		_, err = OpenStore(ctx, "sqlite://")
		assert.ErrorContains(t, err, "no database path")
	})
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths = []string{"deploy.yaml"}
	require.NoError(t, cfg.Validate())

	cfg.LogLevel = "verbose"
	cfg.Workers = 0
	cfg.NotifyURL = "not a url"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, `LogLevel must be one of [debug info warn error], got "verbose"`)
	assert.ErrorContains(t, err, "Workers")
	assert.ErrorContains(t, err, "NotifyURL must be a URL")

	blank := DefaultConfig()
	blank.Paths = []string{""}
	assert.ErrorContains(t, blank.Validate(), "Paths[0] is required")
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploygrid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 8
maxAttempts: 3
retryInitialInterval: 250ms
state: memory://
env: ["RPC_URL=http://localhost:8545"]
`), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, LoadConfigFile(path, &cfg))
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryInitialInterval)
	assert.Equal(t, "memory://", cfg.StateURL)
	assert.Equal(t, "info", cfg.LogLevel, "keys absent from the file keep their value")

	require.NoError(t, os.WriteFile(path, []byte("wokers: 8\n"), 0o644))
	assert.ErrorContains(t, LoadConfigFile(path, &cfg), "wokers")
}

func TestNewLogger(t *testing.T) {
	buf := &SafeBuffer{}
	logger := NewLogger("warn", "json", buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"app":"deploygrid"`)
}
