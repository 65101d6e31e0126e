package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// statusRecorder wraps every response for per-route metrics; it must still
// satisfy http.Flusher so SSE streams aren't buffered forever behind it.
func TestStatusRecorderDelegatesFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	flusher, ok := (http.ResponseWriter)(sr).(http.Flusher)
	if !ok {
		t.Fatalf("statusRecorder must implement http.Flusher")
	}
	flusher.Flush()
	if !rec.Flushed {
		t.Fatalf("expected Flush to delegate to the underlying ResponseRecorder")
	}
}

func TestStatusRecorderUnwrapExposesUnderlyingWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	if sr.Unwrap() != rec {
		t.Fatalf("Unwrap() should return the underlying ResponseWriter")
	}
}
