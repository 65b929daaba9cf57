package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/sightings/internal/controller"
	"github.com/Veraticus/sightings/internal/session"
)

func TestRecorderCounters(t *testing.T) {
	m := New()

	m.ObserveEvent(controller.ClassPhoto)
	m.ObserveEvent(controller.ClassPhoto)
	m.ObserveTransition(session.StateIdle, session.StateAwaitingPlate)
	m.ObserveMatch("EXACT", 1)
	m.ObserveDuplicate()
	m.ObserveFinalize(true)
	m.ObserveFinalize(false)
	m.ObserveError("unknown_command")
	m.ObserveDropped("rate_limited")
	m.ObservePanic("worker-1")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("PHOTO")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("IDLE", "AWAITING_PLATE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.matches.WithLabelValues("EXACT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finalizations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finalizations.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("unknown_command")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.panics))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvent(controller.ClassHelp)
		m.ObserveTransition(session.StateIdle, session.StateIdle)
		m.ObserveMatch("NONE", 0)
		m.ObserveDuplicate()
		m.ObserveFinalize(true)
		m.ObserveError("x")
		m.ObserveDropped("x")
		m.ObservePanic("w")
		m.RegisterSessionGauges(func() map[string]int { return nil })
	})
}

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.RegisterSessionGauges(func() map[string]int {
		return map[string]int{"AWAITING_PLATE": 3}
	})
	m.RegisterQueueGauges(func() map[string]int {
		return map[string]int{"queued": 7, "collapsed": 2}
	})
	m.ObserveEvent(controller.ClassHelp)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `sightings_sessions{state="AWAITING_PLATE"} 3`)
	assert.Contains(t, text, `sightings_queue_queued 7`)
	assert.Contains(t, text, `sightings_queue_collapsed_total 2`)
	assert.Contains(t, text, `sightings_events_total{class="HELP"} 1`)
}
