package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidTraceID(t *testing.T) {
	for _, id := range []string{"abc123", "trace-1", "3f2a_b.c"} {
		if !ValidTraceID(id) {
			t.Fatalf("ValidTraceID(%q) = false", id)
		}
	}
	for _, id := range []string{"", "..", ".hidden", "a/b", "a b", string(make([]byte, 129))} {
		if ValidTraceID(id) {
			t.Fatalf("ValidTraceID(%q) = true", id)
		}
	}
}

func TestTraceMiddlewareReplacesUnsafeTraceID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.Header.Set(traceHeader, "../../etc/passwd")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen == "../../etc/passwd" || !ValidTraceID(seen) {
		t.Fatalf("trace id = %q, want a generated id", seen)
	}
	if rr.Header().Get(traceHeader) != seen {
		t.Fatalf("trace header = %q, context = %q", rr.Header().Get(traceHeader), seen)
	}
}
