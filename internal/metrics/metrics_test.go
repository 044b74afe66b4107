package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric kind")
	return 0
}

func TestCollectorsCount(t *testing.T) {
	before := value(t, CacheHitsTotal.WithLabelValues("list"))
	CacheHitsTotal.WithLabelValues("list").Inc()
	if got := value(t, CacheHitsTotal.WithLabelValues("list")); got != before+1 {
		t.Fatalf("hits = %v, want %v", got, before+1)
	}

	ReplicaQueueDepth.Set(3)
	if got := value(t, ReplicaQueueDepth); got != 3 {
		t.Fatalf("queue depth = %v", got)
	}
}

func TestCollectorsAreRegistered(t *testing.T) {
	SyncItemsTotal.WithLabelValues("srd", "spell").Add(2)
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "compendium_sync_items_total" {
			return
		}
	}
	t.Fatalf("compendium_sync_items_total not registered")
}
