package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareAssignsAndEchoesRequestID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("no request id in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("echoed id %q, context id %q", got, seen)
	}

	// A caller-supplied id survives untouched.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-7")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "upstream-7" || rec.Header().Get("X-Request-ID") != "upstream-7" {
		t.Errorf("caller id not preserved: context %q, header %q", seen, rec.Header().Get("X-Request-ID"))
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != Logger {
		t.Error("bare context must return the process logger")
	}
	ctx := WithRequestID(context.Background(), "req-1")
	if FromContext(ctx) == Logger {
		t.Error("request context must return an annotated logger")
	}
	if RequestID(ctx) != "req-1" {
		t.Errorf("request id = %q", RequestID(ctx))
	}
}
