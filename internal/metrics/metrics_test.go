package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Frames(t *testing.T) {
	m := New()
	m.Frame(0, ResultCollected)
	m.Frame(0, ResultCollected)
	m.Frame(1, ResultIncomplete)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesTotal.WithLabelValues("0", ResultCollected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesTotal.WithLabelValues("1", ResultIncomplete)))

	m.ObserveRetrieval(0, 10*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.retrievalSeconds))
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.SetTarget(100)
	m.SetIndex(42)
	m.SetCamerasActive(3)
	m.Export("MJPG", "success")

	assert.Equal(t, 100.0, testutil.ToFloat64(m.targetFrames))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.currentIndex))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.camerasActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exportsTotal.WithLabelValues("MJPG", "success")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Frame(0, ResultCollected)
		m.ObserveRetrieval(0, time.Second)
		m.Export("H264", "success")
		m.SetCamerasActive(1)
		m.SetTarget(1)
		m.SetIndex(1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Frame(2, ResultTimeout)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `multicam_frames_total{camera="2",result="timeout"} 1`)
}
