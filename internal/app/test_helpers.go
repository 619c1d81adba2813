package app

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/specialistvlad/deploygrid/internal/state"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// SetupAppTest creates an App with debug logging captured in a buffer. The
// log is dumped to the test output when DEPLOYGRID_TEST_LOGS=true.
func SetupAppTest(t *testing.T, cfg *Config) (*App, *SafeBuffer) {
	t.Helper()

	logBuffer := &SafeBuffer{}
	cfg.LogLevel = "debug"
	testApp := New(logBuffer, cfg)

	t.Cleanup(func() {
		if os.Getenv("DEPLOYGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}

// useStore makes every command of a share s instead of opening cfg.StateURL.
// The store is left open across commands, which is what lets tests inspect it.
func useStore(a *App, s state.Store) {
	a.openStore = func(context.Context, string) (state.Store, error) {
		return nopCloser{s}, nil
	}
}

type nopCloser struct{ state.Store }

func (nopCloser) Close() error { return nil }
