package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func passing(_ context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func probe(t *testing.T, fn http.HandlerFunc, path string) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest("GET", path, nil))

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s body: %v", path, err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type: want JSON, got %q", path, ct)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	code, body := probe(t, New().Healthz, "/healthz")
	if code != http.StatusOK {
		t.Errorf("want 200, got %d", code)
	}
	if body.Status != "ok" {
		t.Errorf("want status ok, got %q", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	t.Run("all checks pass", func(t *testing.T) {
		t.Parallel()
		h := New(
			Checker{Name: "database", Check: passing},
			Checker{Name: "providers", Check: passing},
		)
		code, body := probe(t, h.Readyz, "/readyz")
		if code != http.StatusOK {
			t.Errorf("want 200, got %d", code)
		}
		if body.Status != "ok" {
			t.Errorf("want status ok, got %q", body.Status)
		}
		for _, name := range []string{"database", "providers"} {
			if body.Checks[name] != "ok" {
				t.Errorf("%s check: want ok, got %q", name, body.Checks[name])
			}
		}
	})

	t.Run("one failing check fails the probe", func(t *testing.T) {
		t.Parallel()
		h := New(
			Checker{Name: "database", Check: failing("connection refused")},
			Checker{Name: "providers", Check: passing},
		)
		code, body := probe(t, h.Readyz, "/readyz")
		if code != http.StatusServiceUnavailable {
			t.Errorf("want 503, got %d", code)
		}
		if body.Status != "fail" {
			t.Errorf("want status fail, got %q", body.Status)
		}
		if body.Checks["database"] != "fail: connection refused" {
			t.Errorf("database check: got %q", body.Checks["database"])
		}
		if body.Checks["providers"] != "ok" {
			t.Errorf("providers check: want ok, got %q", body.Checks["providers"])
		}
	})

	t.Run("every check fails", func(t *testing.T) {
		t.Parallel()
		h := New(
			Checker{Name: "database", Check: failing("timeout")},
			Checker{Name: "providers", Check: failing("no providers configured")},
		)
		code, body := probe(t, h.Readyz, "/readyz")
		if code != http.StatusServiceUnavailable {
			t.Errorf("want 503, got %d", code)
		}
		if body.Checks["database"] != "fail: timeout" {
			t.Errorf("database check: got %q", body.Checks["database"])
		}
		if body.Checks["providers"] != "fail: no providers configured" {
			t.Errorf("providers check: got %q", body.Checks["providers"])
		}
	})

	t.Run("no checks means ready", func(t *testing.T) {
		t.Parallel()
		code, body := probe(t, New().Readyz, "/readyz")
		if code != http.StatusOK {
			t.Errorf("want 200, got %d", code)
		}
		if body.Status != "ok" {
			t.Errorf("want status ok, got %q", body.Status)
		}
	})

	t.Run("cancelled request context fails checks", func(t *testing.T) {
		t.Parallel()
		h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("want 503, got %d", rec.Code)
		}
	})
}

func TestRegister(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "database", Check: passing}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: want 200, got %d", path, rec.Code)
		}
	}
}
