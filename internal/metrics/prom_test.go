package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	SetBuildInfo("host", "1.0.0", "abc", "2024-01-01")

	before := testutil.ToFloat64(callsPending)
	CallStarted()
	if v := testutil.ToFloat64(callsPending); v != before+1 {
		t.Fatalf("pending after start: %v", v)
	}
	CallFinished("tool", OutcomeSuccess, 100*time.Millisecond)
	if v := testutil.ToFloat64(callsPending); v != before {
		t.Fatalf("pending after finish: %v", v)
	}
	if v := testutil.ToFloat64(callsTotal.WithLabelValues("tool", OutcomeSuccess)); v != 1 {
		t.Fatalf("calls total: %v", v)
	}
	CallRejected("link", OutcomeNoHost)
	if v := testutil.ToFloat64(callsTotal.WithLabelValues("link", OutcomeNoHost)); v != 1 {
		t.Fatalf("rejected calls: %v", v)
	}
	RecordDispatch("prompt", OutcomeSuccess)
	if v := testutil.ToFloat64(hostDispatch.WithLabelValues("prompt", OutcomeSuccess)); v != 1 {
		t.Fatalf("dispatch: %v", v)
	}
	SurfaceConnected()
	SurfaceDisconnected()
	if v := testutil.ToFloat64(hostSurfaces); v != 0 {
		t.Fatalf("surfaces: %v", v)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("host", "2024-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}
}
