package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordDispatch(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordDispatch("mention", "replied", 1.5)
	m.RecordDispatch("mention", "replied", 0.5)
	m.RecordDispatch("none", "silent", 0.001)

	expected := `
		# HELP fedorgpt_dispatch_outcomes_total Total number of handled events by response path and outcome
		# TYPE fedorgpt_dispatch_outcomes_total counter
		fedorgpt_dispatch_outcomes_total{outcome="replied",path="mention"} 2
		fedorgpt_dispatch_outcomes_total{outcome="silent",path="none"} 1
	`
	if err := testutil.CollectAndCompare(m.DispatchOutcomes, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.EventDuration); count != 2 {
		t.Errorf("EventDuration series = %d, want 2", count)
	}
}

func TestMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.EventReceived("message")
	m.EventReceived("message")
	m.RecordCaption("timeout")
	m.RecordCommand("chat.triggers", "ack")
	m.RecordError("transport", "reaction")
	m.RecordJournalPruned(7)
	m.RecordJournalPruned(-1)

	if v := testutil.ToFloat64(m.EventsReceived.WithLabelValues("message")); v != 2 {
		t.Errorf("events received = %v", v)
	}
	if v := testutil.ToFloat64(m.CaptionOutcomes.WithLabelValues("timeout")); v != 1 {
		t.Errorf("caption timeouts = %v", v)
	}
	if v := testutil.ToFloat64(m.CommandOutcomes.WithLabelValues("chat.triggers", "ack")); v != 1 {
		t.Errorf("command outcomes = %v", v)
	}
	if v := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("transport", "reaction")); v != 1 {
		t.Errorf("errors = %v", v)
	}
	if v := testutil.ToFloat64(m.JournalPruned); v != 7 {
		t.Errorf("journal pruned = %v", v)
	}
}

func TestMetrics_InFlight(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	done1 := m.EventStarted()
	done2 := m.EventStarted()
	if v := testutil.ToFloat64(m.EventsInFlight); v != 2 {
		t.Errorf("in flight = %v, want 2", v)
	}
	done1()
	done2()
	if v := testutil.ToFloat64(m.EventsInFlight); v != 0 {
		t.Errorf("in flight = %v, want 0", v)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.EventReceived("message")
	m.EventStarted()()
	m.RecordDispatch("none", "silent", 0)
	m.RecordCaption("ok")
	m.RecordReply("gpt-4o", "success", 1)
	m.RecordCommand("uptime", "reply")
	m.RecordError("reply", "timeout")
	m.RecordJournalPruned(1)
}

func TestHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordReply("gpt-4o", "success", 0.7)

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `fedorgpt_reply_duration_seconds_count{model="gpt-4o",status="success"} 1`) {
		t.Errorf("metrics output missing reply histogram:\n%s", body)
	}
}
