package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/listwatch/internal/model"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			total := 0.0
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
			return total
		}
	}
	t.Fatalf("metric %q not found", name)
	return 0
}

// TestRecordRunSuccess_IncrementsCounter は実行成功カウンタが増加することを検証する。
func TestRecordRunSuccess_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRunSuccess()
	c.RecordRunSuccess()

	if v := counterValue(t, reg, "listwatch_pipeline_runs_success_total"); v != 2 {
		t.Errorf("runs_success_total = %v, want 2", v)
	}
}

// TestRecordRunFailure_LabelsByReason は失敗カウンタが理由ラベル付きで増加することを検証する。
func TestRecordRunFailure_LabelsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRunFailure("integrity")
	c.RecordRunFailure("io")

	if v := counterValue(t, reg, "listwatch_pipeline_runs_fail_total"); v != 2 {
		t.Errorf("runs_fail_total = %v, want 2", v)
	}
}

// TestRecordReconcileOutcome_AddsAllCounters は照合内訳の全カウンタが加算されることを検証する。
func TestRecordReconcileOutcome_AddsAllCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReconcileOutcome(3, 2, 1, 4, 5)

	if v := counterValue(t, reg, "listwatch_listings_new_total"); v != 3 {
		t.Errorf("listings_new_total = %v, want 3", v)
	}
	if v := counterValue(t, reg, "listwatch_price_change_events_total"); v != 2 {
		t.Errorf("price_change_events_total = %v, want 2", v)
	}
	if v := counterValue(t, reg, "listwatch_sold_events_total"); v != 1 {
		t.Errorf("sold_events_total = %v, want 1", v)
	}
	if v := counterValue(t, reg, "listwatch_expired_listings_total"); v != 4 {
		t.Errorf("expired_listings_total = %v, want 4", v)
	}
	if v := counterValue(t, reg, "listwatch_deferred_judgements_total"); v != 5 {
		t.Errorf("deferred_judgements_total = %v, want 5", v)
	}
}

// TestRecordListingCounts_SetsGauges はステータス別ゲージが設定されることを検証する。
func TestRecordListingCounts_SetsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordListingCounts(model.ListingCounts{Active: 7, Sold: 3, Total: 10})

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != "listwatch_listings" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() != "status" {
					continue
				}
				switch label.GetValue() {
				case "active":
					if m.GetGauge().GetValue() != 7 {
						t.Errorf("active gauge = %v, want 7", m.GetGauge().GetValue())
					}
				case "sold":
					if m.GetGauge().GetValue() != 3 {
						t.Errorf("sold gauge = %v, want 3", m.GetGauge().GetValue())
					}
				}
			}
		}
		return
	}
	t.Error("listwatch_listings metric not found")
}

// TestHandler_ServesPrometheusFormat は/metricsハンドラーがスクレイプ可能な
// テキストフォーマットを返すことを検証する。
func TestHandler_ServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRunSuccess()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("metrics endpoint request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "listwatch_pipeline_runs_success_total") {
		t.Error("scrape output does not contain expected metric")
	}
}
