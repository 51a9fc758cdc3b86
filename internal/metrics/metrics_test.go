package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(pairings.WithLabelValues("responder", "accepted"))
	Pairing("responder", "accepted")
	after := testutil.ToFloat64(pairings.WithLabelValues("responder", "accepted"))
	if after != before+1 {
		t.Fatalf("expected counter to increase by 1, got %v -> %v", before, after)
	}

	SetPairedDevices(3)
	if got := testutil.ToFloat64(pairedDevices); got != 3 {
		t.Fatalf("expected gauge 3, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	Clipboard("out", "sent")
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "omniclip_clipboard_messages_total") {
		t.Fatalf("expected clipboard counter in output")
	}
}
