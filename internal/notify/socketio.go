package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// EventName is the socket.io event every notification is emitted under.
const EventName = "deploygrid:event"

// SocketIOOptions configures the dashboard connection.
type SocketIOOptions struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	// ConnectTimeout bounds the initial handshake. Zero means 15s.
	ConnectTimeout time.Duration
}

// SocketIOSink streams events to a socket.io server.
type SocketIOSink struct {
	client *socket.Socket
}

// DialSocketIO connects to the dashboard and waits for the handshake.
func DialSocketIO(ctx context.Context, opts SocketIOOptions) (*SocketIOSink, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", opts.URL)
	logger.Debug("Connecting notification sink...")

	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notify URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("notify URL %q must be absolute", opts.URL)
	}

	sopts := socket.DefaultOptions()
	sopts.SetPath(parsedURL.Path)
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		sopts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sopts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sopts)
	io := manager.Socket(opts.Namespace, sopts)

	connectChan := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		select {
		case connectChan <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connectChan <- err:
		default:
		}
	})
	io.Connect()

	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		logger.Info("Notification sink connected.", "sid", io.Id())
		return &SocketIOSink{client: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-timer.C:
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
}

// Publish emits the event if the connection is up. Events are best effort;
// a disconnected dashboard never fails a run.
func (s *SocketIOSink) Publish(ctx context.Context, ev Event) {
	if !s.client.Connected() {
		ctxlog.FromContext(ctx).Debug("Notification sink disconnected, dropping event.", "kind", ev.Kind)
		return
	}
	s.client.Emit(EventName, payload(ev))
}

// Close disconnects from the server.
func (s *SocketIOSink) Close() error {
	s.client.Disconnect()
	return nil
}

func payload(ev Event) map[string]any {
	p := map[string]any{
		"kind":  string(ev.Kind),
		"runId": ev.RunID,
		"time":  ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if ev.Target != "" {
		p["target"] = ev.Target
	}
	if ev.State != "" {
		p["state"] = ev.State
		p["replayed"] = ev.Replayed
	}
	if ev.Hook != "" {
		p["hook"] = ev.Hook
	}
	if ev.Error != "" {
		p["error"] = ev.Error
	}
	if len(ev.Counts) > 0 {
		counts := make(map[string]any, len(ev.Counts))
		for k, v := range ev.Counts {
			counts[k] = v
		}
		p["counts"] = counts
	}
	return p
}
