package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zk-express/agent-engine/internal/config"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeService struct {
	name     string
	startErr error
	// exitEarly 为 true 时 Start 立即返回
	exitEarly bool
	rec       *recorder
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(ctx context.Context) error {
	if f.startErr != nil || f.exitEarly {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeService) Stop(_ context.Context) error {
	f.rec.add("stop:" + f.name)
	return nil
}

func TestRunnerStopsInReverseOrderOnCancel(t *testing.T) {
	rec := &recorder{}
	runner := NewRunner(&fakeService{name: "http", rec: rec}, &fakeService{name: "worker", rec: rec})
	runner.OnShutdown(func() { rec.add("cleanup") })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, time.Second, nil) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run after cancel should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop")
	}
	events := rec.list()
	want := []string{"stop:worker", "stop:http", "cleanup"}
	if len(events) != len(want) {
		t.Fatalf("events want %v got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events want %v got %v", want, events)
		}
	}
}

func TestRunnerReturnsStartError(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("bind failed")
	runner := NewRunner(
		&fakeService{name: "http", startErr: boom, rec: rec},
		&fakeService{name: "worker", rec: rec},
	)
	err := runner.Run(context.Background(), time.Second, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("want start error, got %v", err)
	}
	if events := rec.list(); len(events) != 2 {
		t.Fatalf("all services should be stopped, got %v", events)
	}
}

func TestRunnerTreatsEarlyExitAsShutdown(t *testing.T) {
	rec := &recorder{}
	runner := NewRunner(
		&fakeService{name: "scheduler", exitEarly: true, rec: rec},
		&fakeService{name: "worker", rec: rec},
	)
	if err := runner.Run(context.Background(), time.Second, nil); err != nil {
		t.Fatalf("early clean exit should not be an error, got %v", err)
	}
}

func TestRunnerRejectsEmpty(t *testing.T) {
	if err := NewRunner().Run(context.Background(), time.Second, nil); err == nil {
		t.Fatalf("empty runner should fail")
	}
	if err := RunWithOptions(nil, Options{}); err == nil {
		t.Fatalf("nil runner should fail")
	}
}

func TestNormalizeOptions(t *testing.T) {
	opts := normalizeOptions(Options{})
	if opts.Mode != ModeAll || opts.ShutdownTimeout != defaultShutdownTimeout || opts.Logger == nil {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	cfg := &config.Config{}
	cfg.Server.ShutdownTimeoutSeconds = 30
	if got := normalizeOptions(Options{Config: cfg}).ShutdownTimeout; got != 30*time.Second {
		t.Fatalf("config timeout want 30s got %v", got)
	}
	if got := normalizeOptions(Options{Config: cfg, ShutdownTimeout: time.Second}).ShutdownTimeout; got != time.Second {
		t.Fatalf("explicit timeout should win, got %v", got)
	}
}

func TestBuildRunnerRejectsUnknownMode(t *testing.T) {
	if _, err := BuildRunner(&config.Config{}, "batch"); err == nil {
		t.Fatalf("unknown mode should fail")
	}
	if _, err := BuildRunner(nil, ModeAll); err == nil {
		t.Fatalf("nil config should fail")
	}
}
