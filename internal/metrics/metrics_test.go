package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStoreOp(t *testing.T) {
	before := testutil.ToFloat64(StoreOps.WithLabelValues("store", "success"))
	ObserveStoreOp("store", "success", time.Now().Add(-time.Millisecond))
	after := testutil.ToFloat64(StoreOps.WithLabelValues("store", "success"))
	if after != before+1 {
		t.Fatalf("store ops counter = %v; want %v", after, before+1)
	}
	if n := testutil.CollectAndCount(StoreOpDuration); n == 0 {
		t.Fatalf("expected at least one duration series")
	}
}

func TestObserveCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(CacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(CacheLookups.WithLabelValues("miss"))
	ObserveCacheLookup(true)
	ObserveCacheLookup(false)
	ObserveCacheLookup(false)
	if got := testutil.ToFloat64(CacheLookups.WithLabelValues("hit")); got != hits+1 {
		t.Fatalf("hits = %v; want %v", got, hits+1)
	}
	if got := testutil.ToFloat64(CacheLookups.WithLabelValues("miss")); got != misses+2 {
		t.Fatalf("misses = %v; want %v", got, misses+2)
	}
}
