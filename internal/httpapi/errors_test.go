package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kstaniek/cz2gate/internal/errs"
)

func TestStatusForMapsSentinelsToHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", errs.ErrTransport), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: x", errs.ErrProtocol), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: x", errs.ErrTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: x", errs.ErrValidation), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: x", errs.ErrResourceExhausted), http.StatusTooManyRequests},
		{fmt.Errorf("%w: x", errs.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("unclassified failure"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWriteErrorEmitsErrorBodyAtMappedStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("%w: zone 9 out of range", errs.ErrNotFound))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected a non-empty error message")
	}
}
