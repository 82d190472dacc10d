package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndHandler(t *testing.T) {
	before := testutil.ToFloat64(ingestFeatures.WithLabelValues("block", "created"))
	IngestFeature("block", "created")
	IngestFeature("block", "created")
	if got := testutil.ToFloat64(ingestFeatures.WithLabelValues("block", "created")) - before; got != 2 {
		t.Fatalf("expected 2 created features, got %v", got)
	}

	RenestUnits("tract", "geometry", 0)
	RenestUnits("tract", "data", 3)
	if got := testutil.ToFloat64(renestUnits.WithLabelValues("tract", "data")); got < 3 {
		t.Fatalf("expected at least 3 data changes, got %v", got)
	}

	Characteristic("assigned")
	ObserveJob("import", "completed", 2*time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "geography_ingest_features_total") {
		t.Errorf("exposition missing ingest counter")
	}
}
