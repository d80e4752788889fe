package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMiddlewareLevelsByStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		status int
		level  zapcore.Level
	}{
		"ok":           {status: http.StatusOK, level: zapcore.InfoLevel},
		"see other":    {status: http.StatusSeeOther, level: zapcore.InfoLevel},
		"unauthorized": {status: http.StatusUnauthorized, level: zapcore.WarnLevel},
		"server error": {status: http.StatusInternalServerError, level: zapcore.ErrorLevel},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			mw := Middleware(zap.New(core))
			h := mw(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			})

			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodPost, "/buy", nil))

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("expected one log entry, got %d", len(entries))
			}
			entry := entries[0]
			if entry.Message != "http_request" {
				t.Fatalf("unexpected message %q", entry.Message)
			}
			if entry.Level != tc.level {
				t.Fatalf("expected level %s, got %s", tc.level, entry.Level)
			}
			fields := entry.ContextMap()
			if got := fields["status"]; got != int64(tc.status) {
				t.Fatalf("expected status %d, got %v", tc.status, got)
			}
			if got := fields["path"]; got != "/buy" {
				t.Fatalf("expected path /buy, got %v", got)
			}
		})
	}
}

func TestMiddlewareDefaultsToOK(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	h := Middleware(zap.New(core))(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	fields := logs.All()[0].ContextMap()
	if fields["status"] != int64(http.StatusOK) {
		t.Fatalf("expected implicit 200, got %v", fields["status"])
	}
	if fields["body_size"] != int64(5) {
		t.Fatalf("expected body size 5, got %v", fields["body_size"])
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	for _, env := range []string{"production", "development"} {
		logger, err := New(env)
		if err != nil {
			t.Fatalf("New(%q): %v", env, err)
		}
		_ = logger.Sync()
	}
}
