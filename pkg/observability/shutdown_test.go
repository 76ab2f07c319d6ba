package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestShutdownManager_RunsInOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	var order []string
	sm.Register("sweeper", func(ctx context.Context) error {
		order = append(order, "sweeper")
		return nil
	})
	sm.Register("cache", func(ctx context.Context) error {
		order = append(order, "cache")
		return errors.New("close failed")
	})
	sm.Register("db", func(ctx context.Context) error {
		order = append(order, "db")
		return nil
	})

	err := sm.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected error from failing shutdown func")
	}
	if len(order) != 3 || order[0] != "sweeper" || order[2] != "db" {
		t.Errorf("order = %v", order)
	}
}

func TestShutdownManager_StopsServers(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(NopLogger(), 0, server)

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		t.Errorf("server should be closed, got %v", err)
	}
}

func TestShutdownManager_WaitForShutdownOnCancel(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	called := make(chan struct{})
	sm.Register("flush", func(ctx context.Context) error {
		close(called)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sm.WaitForShutdown(ctx); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
	select {
	case <-called:
	default:
		t.Error("shutdown func not called")
	}
}

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NopLogger())
	if err != nil {
		t.Fatalf("InitOTel: %v", err)
	}
	if providers != nil {
		t.Error("expected nil providers when disabled")
	}
	if err := ShutdownOTel(context.Background(), nil, NopLogger()); err != nil {
		t.Errorf("ShutdownOTel(nil): %v", err)
	}
}

func TestWithTraceContext(t *testing.T) {
	logger := NopLogger()
	if WithTraceContext(context.Background(), logger) != logger {
		t.Error("no span should return the same logger")
	}

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "check")
	defer span.End()

	if WithTraceContext(ctx, logger) == logger {
		t.Error("recording span should add trace fields")
	}
	if err := ShutdownOTel(context.Background(), &OTelProviders{TracerProvider: tp}, logger); err != nil {
		t.Errorf("ShutdownOTel: %v", err)
	}
}

func TestMustRecover(t *testing.T) {
	if MustRecover(nil) != nil {
		t.Error("nil should give nil")
	}
	err := func() (err error) {
		defer func() { err = MustRecover(recover()) }()
		panic("bad")
	}()
	if err == nil || err.Error() != "panic: bad" {
		t.Errorf("err = %v", err)
	}

	func() {
		defer RecoverPanic(NopLogger(), "test")
		panic("swallowed")
	}()
}
