package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJob(t *testing.T) {
	m := New()

	m.RecordJob(ResultSuccess, 300*time.Millisecond)
	m.RecordJob(ResultSuccess, 700*time.Millisecond)
	m.RecordJob(ResultDeadLetter, 50*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues("dead_letter")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues("retry")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.jobSeconds))
}

func TestGauges(t *testing.T) {
	m := New()

	m.SetPending(7)
	m.SetStreamLag(90 * time.Second)

	assert.Equal(t, 7.0, testutil.ToFloat64(m.pendingJobs))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.streamLag))
}

func TestHandlerServesRegisteredSeries(t *testing.T) {
	m := New()
	m.RecordJob(ResultInvalid, 10*time.Millisecond)
	m.SetPending(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `sploot_media_clustering_jobs_processed_total{result="invalid"} 1`))
	assert.True(t, strings.Contains(body, "sploot_media_clustering_pending_jobs 1"))
	assert.True(t, strings.Contains(body, "sploot_media_clustering_job_processing_seconds_bucket"))
	// Only pipeline series are exported, no Go runtime collectors.
	assert.False(t, strings.Contains(body, "go_goroutines"))
}
