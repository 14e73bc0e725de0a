package telemetry

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ryandielhenn/zephyrdht/pkg/krpc"
)

func TestRejectReason(t *testing.T) {
	cases := map[error]string{
		fmt.Errorf("%w: bad", krpc.ErrMalformedMessage):     ReasonMalformed,
		fmt.Errorf("%w: \"x\"", krpc.ErrUnknownMessageType): ReasonUnknownType,
		fmt.Errorf("read: boom"):                            ReasonOther,
	}
	for err, want := range cases {
		if got := RejectReason(err); got != want {
			t.Fatalf("RejectReason(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestObserveRejected(t *testing.T) {
	before := testutil.ToFloat64(PacketsRejected.WithLabelValues(ReasonUnknownType))
	ObserveRejected(fmt.Errorf("%w: \"z\"", krpc.ErrUnknownMessageType))
	after := testutil.ToFloat64(PacketsRejected.WithLabelValues(ReasonUnknownType))
	if after-before != 1 {
		t.Fatalf("unknown_type rejections went from %v to %v, want +1", before, after)
	}
}

func TestInstrumentCountsStatusClass(t *testing.T) {
	h := Instrument("test_op", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx")); got-before != 1 {
		t.Fatalf("4xx count = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(InFlight.WithLabelValues("test_op")); got != 0 {
		t.Fatalf("in flight = %v after request, want 0", got)
	}
}

func TestMetricsHandlerExposesPacketCounters(t *testing.T) {
	PacketsReceived.WithLabelValues(krpc.TypeQuery).Inc()
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "zephyrdht_krpc_packets_received_total") {
		t.Fatalf("metrics output lacks packet counter:\n%s", rec.Body.String())
	}
}
