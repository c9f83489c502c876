package log

import (
	"context"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestInitFallsBackOnUnknownLevel(t *testing.T) {
	l := Init(ZapConfig{Level: "loud", Mode: "development", Encoding: "console"})
	if l == nil {
		t.Fatal("expected logger")
	}
	l.Infof(context.Background(), "[test] hello %s", "world")
}

func TestWithCtxAttachesRequestID(t *testing.T) {
	l := NewNop().(*zapLogger)
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	if got := l.withCtx(ctx); got == l.sugar {
		t.Fatal("expected a derived logger when request id is present")
	}
	if got := l.withCtx(context.Background()); got != l.sugar {
		t.Fatal("expected base logger without request id")
	}
}
