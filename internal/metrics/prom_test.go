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
	SetServerBuildInfo("1.0.0", "abc", "2024-01-01")

	beforeText := testutil.ToFloat64(turns.WithLabelValues(TurnText))
	beforeFrames := testutil.ToFloat64(framesRelayed)
	beforeActive := testutil.ToFloat64(activeConnections)

	ConnectionOpened()
	RecordUpstreamSession("open")
	RecordTurn(TurnText, 0, 0)
	RecordTurn(TurnFrames, 2, 2048)
	RecordEvent("textChunk")
	ObserveTurnDuration(150 * time.Millisecond)

	if v := testutil.ToFloat64(turns.WithLabelValues(TurnText)) - beforeText; v != 1 {
		t.Fatalf("text turns: %v", v)
	}
	if v := testutil.ToFloat64(framesRelayed) - beforeFrames; v != 2 {
		t.Fatalf("frames relayed: %v", v)
	}
	if v := testutil.ToFloat64(activeConnections) - beforeActive; v != 1 {
		t.Fatalf("active connections: %v", v)
	}
	ConnectionClosed()
	if v := testutil.ToFloat64(activeConnections); v != beforeActive {
		t.Fatalf("active after close: %v", v)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("2024-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}

	n, err := testutil.GatherAndCount(reg, "liverelay_turn_bytes", "liverelay_turn_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Fatalf("histogram series = %d; want 2", n)
	}
}

func TestEventsExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	RecordEvent("turnComplete")
	RecordEvent("error")
	n, err := testutil.GatherAndCount(reg, "liverelay_events_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n < 2 {
		t.Fatalf("event series = %d; want at least 2", n)
	}
}
