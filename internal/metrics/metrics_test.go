package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestGauges_TrackCurrentValues はゲージが現在値を追跡することを検証する。
func TestGauges_TrackCurrentValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetActiveConnections(42)
	c.SetActiveRooms(7)

	if got := gaugeValue(t, reg, "spotter_active_connections"); got != 42 {
		t.Errorf("active_connections = %v, want 42", got)
	}
	if got := gaugeValue(t, reg, "spotter_active_rooms"); got != 7 {
		t.Errorf("active_rooms = %v, want 7", got)
	}

	// ゲージは減少もできる
	c.SetActiveConnections(3)
	if got := gaugeValue(t, reg, "spotter_active_connections"); got != 3 {
		t.Errorf("active_connections = %v, want 3", got)
	}
}

// TestMessageCounters_Increment はメッセージ関連カウンタが増加することを検証する。
func TestMessageCounters_Increment(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMessage()
	c.RecordMessage()
	c.RecordMessageFlagged()
	c.RecordMessageBlocked()
	c.RecordMessageBlocked()
	c.RecordMessageBlocked()

	if got := counterValue(t, reg, "spotter_messages_total"); got != 2 {
		t.Errorf("messages_total = %v, want 2", got)
	}
	if got := counterValue(t, reg, "spotter_messages_flagged_total"); got != 1 {
		t.Errorf("messages_flagged_total = %v, want 1", got)
	}
	if got := counterValue(t, reg, "spotter_messages_blocked_total"); got != 3 {
		t.Errorf("messages_blocked_total = %v, want 3", got)
	}
}

// TestNotificationsSent_AddsUserCount は通知カウンタがユーザー数単位で加算されることを検証する。
func TestNotificationsSent_AddsUserCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordNotificationsSent(5)
	c.RecordNotificationsSent(2)

	if got := counterValue(t, reg, "spotter_notifications_sent_total"); got != 7 {
		t.Errorf("notifications_sent_total = %v, want 7", got)
	}
}

// TestEventsDropped_Increments はイベント破棄カウンタが増加することを検証する。
func TestEventsDropped_Increments(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEventDropped()

	if got := counterValue(t, reg, "spotter_events_dropped_total"); got != 1 {
		t.Errorf("events_dropped_total = %v, want 1", got)
	}
}

// TestIngestFailure_IncrementsCounterWithLabel は取り込み失敗カウンタが理由別に増加することを検証する。
func TestIngestFailure_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIngestFailure("https://feeds.example.com/rss.xml", "timeout")
	c.RecordIngestFailure("https://feeds.example.com/rss.xml", "timeout")
	c.RecordIngestFailure("https://feeds.example.com/rss.xml", "parse")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "spotter_ingest_fail_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "timeout":
					if val != 2 {
						t.Errorf("ingest_fail_total{reason=timeout} = %v, want 2", val)
					}
				case "parse":
					if val != 1 {
						t.Errorf("ingest_fail_total{reason=parse} = %v, want 1", val)
					}
				default:
					t.Errorf("unexpected label value: %s", label)
				}
			}
		}
	}
	if !found {
		t.Error("spotter_ingest_fail_total metric not found")
	}
}

// TestIngestLatency_ObservesHistogram は取り込みレイテンシのヒストグラムに値が記録されることを検証する。
func TestIngestLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIngestLatency(100 * time.Millisecond)
	c.RecordIngestLatency(2 * time.Second)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "spotter_ingest_latency_seconds" {
			found = true
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 2 {
				t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
			}
			// 合計は0.1 + 2.0 = 2.1秒
			if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
				t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
			}
		}
	}
	if !found {
		t.Error("spotter_ingest_latency_seconds metric not found")
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat はハンドラーがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetActiveConnections(1)
	c.RecordMessage()
	c.RecordIngestSuccess("https://feeds.example.com/rss.xml")
	c.RecordReportsIngested(3)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"spotter_active_connections",
		"spotter_messages_total",
		"spotter_ingest_success_total",
		"spotter_reports_ingested_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
}
