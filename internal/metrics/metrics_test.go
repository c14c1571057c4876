package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.ConnectionsActive == nil {
		t.Error("ConnectionsActive metric is nil")
	}
	if m.HandshakeLatency == nil {
		t.Error("HandshakeLatency metric is nil")
	}
	if m.LoginFailures == nil {
		t.Error("LoginFailures metric is nil")
	}
}

func TestRecordConnectDisconnect(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordConnect()
	m.RecordConnect()

	if got := testutil.ToFloat64(m.ConnectionsActive); got != 2 {
		t.Errorf("ConnectionsActive = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsTotal); got != 2 {
		t.Errorf("ConnectionsTotal = %v, want 2", got)
	}

	m.RecordDisconnect("eof")

	if got := testutil.ToFloat64(m.ConnectionsActive); got != 1 {
		t.Errorf("ConnectionsActive after disconnect = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsClosed.WithLabelValues("eof")); got != 1 {
		t.Errorf("ConnectionsClosed{eof} = %v, want 1", got)
	}
}

func TestRecordLoginOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordLoginAttempt()
	m.RecordLoginAttempt()
	m.RecordLoginSuccess(0.05)
	m.RecordLoginFailure("HMAC")

	if got := testutil.ToFloat64(m.LoginAttempts); got != 2 {
		t.Errorf("LoginAttempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LoginSuccesses); got != 1 {
		t.Errorf("LoginSuccesses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LoginFailures.WithLabelValues("HMAC")); got != 1 {
		t.Errorf("LoginFailures{HMAC} = %v, want 1", got)
	}
}

func TestRecordFrames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordFrameSent(128)
	m.RecordFrameReceived(64)
	m.RecordFrameError("decrypt")

	if got := testutil.ToFloat64(m.FramesSent); got != 1 {
		t.Errorf("FramesSent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 128 {
		t.Errorf("BytesSent = %v, want 128", got)
	}
	if got := testutil.ToFloat64(m.FramesReceived); got != 1 {
		t.Errorf("FramesReceived = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived); got != 64 {
		t.Errorf("BytesReceived = %v, want 64", got)
	}
	if got := testutil.ToFloat64(m.FrameErrors.WithLabelValues("decrypt")); got != 1 {
		t.Errorf("FrameErrors{decrypt} = %v, want 1", got)
	}
}

func TestDefault(t *testing.T) {
	m1 := Default()
	m2 := Default()
	if m1 != m2 {
		t.Error("Default() returned different instances across calls")
	}
}
