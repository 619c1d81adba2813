package notify

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, nil, b, Nop{}}

	m.Publish(context.Background(), Event{Kind: RunStarted, RunID: "r1"})

	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	assert.Equal(t, "r1", b.Events()[0].RunID)
}

func TestRecorderConcurrent(t *testing.T) {
	r := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Publish(context.Background(), Event{Kind: TargetState})
		}()
	}
	wg.Wait()
	assert.Len(t, r.Events(), 50)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	sink := LogSink{}
	sink.Publish(ctx, Event{Kind: RunStarted, RunID: "r1"})
	sink.Publish(ctx, Event{Kind: TargetState, Target: "mainnet:Token", State: "completed", Replayed: true})
	sink.Publish(ctx, Event{Kind: TargetState, Target: "mainnet:Vault", State: "failed", Error: "boom"})
	sink.Publish(ctx, Event{Kind: HookFinished, Hook: "before:setup", Target: "mainnet:Token"})
	sink.Publish(ctx, Event{Kind: RunFinished, RunID: "r1", Counts: map[string]int{"completed": 1, "failed": 1}, Error: "1 failed"})

	out := buf.String()
	assert.Contains(t, out, "Run started.")
	assert.Contains(t, out, "target=mainnet:Token state=completed replayed=true")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "hook=before:setup")
	assert.Contains(t, out, "Run finished with failures.")
	assert.Contains(t, out, "completed=1 failed=1")
}

func TestPayload(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := payload(Event{Kind: TargetState, RunID: "r", Time: ts, Target: "n:A", State: "running"})
	assert.Equal(t, map[string]any{
		"kind":     "target.state",
		"runId":    "r",
		"time":     "2024-01-01T00:00:00Z",
		"target":   "n:A",
		"state":    "running",
		"replayed": false,
	}, p)

	p = payload(Event{Kind: RunFinished, Counts: map[string]int{"completed": 2}})
	assert.Equal(t, map[string]any{"completed": 2}, p["counts"])
	assert.NotContains(t, p, "target")
}

func TestDialSocketIO_BadURL(t *testing.T) {
	_, err := DialSocketIO(context.Background(), SocketIOOptions{URL: "localhost-no-scheme"})
	assert.ErrorContains(t, err, "must be absolute")
}

func TestDialSocketIO_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := DialSocketIO(ctx, SocketIOOptions{URL: "http://127.0.0.1:1", ConnectTimeout: 2 * time.Second})
	assert.Error(t, err)
}
