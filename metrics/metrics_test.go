package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Fetch("direct", "ok")
	m.Retry("success")
	m.ItemFinished("done")
	m.Phase("outline", 1)
	m.Links(1, 2, 3)
	m.Video(true)
	m.Cache(true)
	assert.Nil(t, m.Registry())
}

func TestCountersRecord(t *testing.T) {
	m := New()
	m.Fetch("direct", "error")
	m.Fetch("direct", "error")
	m.Links(3, 1, 0)
	m.Video(false)
	m.Video(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("direct", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LinksInjected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinksRepaired.WithLabelValues("rewritten")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VideoCorrection))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ItemFinished("done")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `seo_pipeline_items_finished_total{status="done"} 1`)
}
