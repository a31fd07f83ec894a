package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/gigline/internal/api"
	"github.com/matheus3301/gigline/internal/auth"
	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/config"
	"github.com/matheus3301/gigline/internal/lock"
	"github.com/matheus3301/gigline/internal/profile"
	"github.com/matheus3301/gigline/internal/protocol"
	"github.com/matheus3301/gigline/internal/status"
	"github.com/matheus3301/gigline/internal/transport/transporttest"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// setupHome points the profile tree at a short temp dir (Unix socket paths are
// limited to 104 chars on macOS) and writes a config.
func setupHome(t *testing.T, watch ...string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "gl-d-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv(profile.HomeEnv, dir)
	t.Setenv(auth.EnvToken, "tok")

	cfg := config.Default()
	cfg.UserID = "me"
	cfg.Presence.Watch = watch
	if err := config.Save(profile.ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}
	return dir
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAgentLifecycle(t *testing.T) {
	dir := setupHome(t, "u1")
	srv := transporttest.NewServer()
	socketPath := filepath.Join(dir, "a.sock")

	app := fx.New(
		Module(Params{Profile: "test", SocketPath: socketPath, Dialer: srv.Dialer(), Logger: zap.NewNop()}),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New() error = %v", err)
	}
	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = app.Stop(context.Background())
		}
	}()

	c, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancelCalls := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCalls()

	waitUntil(t, "SERVING", func() bool {
		s, err := c.Health(ctx)
		return err == nil && s == healthpb.HealthCheckResponse_SERVING
	})

	srv.WaitFor(t, protocol.Subscribe.Kind(), 1)
	if h := srv.Headers(); len(h) == 0 || h[0].Get("Authorization") != "Bearer tok" {
		t.Errorf("dial headers = %v", h)
	}

	if _, err := c.SendText(ctx, &api.SendTextRequest{ChatID: "c1", Text: "hello"}); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	srv.WaitFor(t, protocol.SendMessage.Kind(), 1)

	if err := transporttest.PushEvent(srv, protocol.NewMessage, protocol.Message{
		ID: "m1", ChatID: "c1", SenderID: "me", Type: protocol.TypeText,
		Content: protocol.Content{Text: "hello"}, CreatedAt: time.Now(),
	}, ""); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "message cached", func() bool {
		resp, err := c.ListMessages(ctx, &api.ListMessagesRequest{ChatID: "c1"})
		return err == nil && len(resp.Sections) == 1 && len(resp.Sections[0].Messages) == 1
	})

	st, err := c.GetStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != string(status.Connected) || st.ActiveChat != "c1" || st.MessageCount != 1 {
		t.Errorf("status = %+v", st)
	}
	if len(st.Watched) != 1 || st.Watched[0] != "u1" {
		t.Errorf("watched = %v", st.Watched)
	}

	if err := app.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	stopped = true

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed: %v", err)
	}
	srv.WaitFor(t, protocol.Unsubscribe.Kind(), 1)
	l, err := lock.Acquire(profile.Dir("test"))
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	_ = l.Release()
}

func TestSecondAgentRefusesLockedProfile(t *testing.T) {
	dir := setupHome(t)
	held, err := lock.Acquire(profile.Dir("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = held.Release() }()

	app := fx.New(
		Module(Params{Profile: "test", SocketPath: filepath.Join(dir, "a.sock"), Dialer: transporttest.NewServer().Dialer(), Logger: zap.NewNop()}),
		fx.NopLogger,
	)
	err = app.Err()
	if err == nil {
		t.Fatal("fx.New() succeeded while the profile was locked")
	}
	if !strings.Contains(err.Error(), "profile lock held") {
		t.Errorf("err = %v, want lock held", err)
	}
}

func TestHealthFollowsConnectionState(t *testing.T) {
	b := bus.New()
	m := status.NewMachine(b)
	hr := NewHealthReporter(m, b, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	hr.Start(ctx)
	defer func() {
		cancel()
		hr.Stop()
	}()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hr.Server().Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err != nil {
			t.Fatal(err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("initial = %v, want NOT_SERVING", got)
	}
	_ = m.Transition(status.Connecting)
	_ = m.Transition(status.Connected)
	waitUntil(t, "SERVING", func() bool { return check() == healthpb.HealthCheckResponse_SERVING })

	_ = m.Transition(status.Disconnected)
	waitUntil(t, "NOT_SERVING", func() bool { return check() == healthpb.HealthCheckResponse_NOT_SERVING })
}

func TestTransportLoggerIsNamedOnce(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tr := provideTransport(Params{Profile: "test"}, config.Default(), nil, status.NewMachine(nil), nil, zap.New(core))

	_ = tr.Emit(mustWrap(t))
	entries := logs.All()
	if len(entries) == 0 {
		t.Fatal("emit while disconnected logged nothing")
	}
	if got := entries[0].LoggerName; got != "transport" {
		t.Errorf("logger name = %q, want transport", got)
	}
}

func mustWrap(t *testing.T) protocol.Envelope {
	t.Helper()
	env, err := protocol.Heartbeat.Wrap(protocol.HeartbeatPing{Timestamp: 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	return env
}
