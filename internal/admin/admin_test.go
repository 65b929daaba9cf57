package admin_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/sightings/internal/admin"
	"github.com/Veraticus/sightings/internal/registry"
	"github.com/Veraticus/sightings/internal/session"
	"github.com/Veraticus/sightings/internal/storage"
)

type stubSessions struct {
	sessions map[string]session.Session
	err      error
}

func (s *stubSessions) SessionState(_ context.Context, identity string) (session.Session, error) {
	if s.err != nil {
		return session.Session{}, s.err
	}
	if sess, ok := s.sessions[identity]; ok {
		return sess, nil
	}
	return session.New(identity, time.Now()), nil
}

type stubSightings struct {
	gotPlate string
	gotLimit int
	list     []storage.Sighting
}

func (s *stubSightings) List(_ context.Context, plate string, limit int) ([]storage.Sighting, error) {
	s.gotPlate = plate
	s.gotLimit = limit
	return s.list, nil
}

func serve(t *testing.T, h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSessionEndpoint(t *testing.T) {
	sess := session.New("+15551234567", time.Now())
	sess.State = session.StateAwaitingPlate
	sess.PendingImageRef = "img-1"
	sess = sess.Remember("m1", "Great photo!", time.Now(), 0)

	srv, err := admin.NewServer(&stubSessions{sessions: map[string]session.Session{sess.Identity: sess}})
	require.NoError(t, err)

	rec := serve(t, srv, http.MethodGet, "/sessions/%2B15551234567", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "+15551234567", body["identity"])
	assert.Equal(t, "AWAITING_PLATE", body["state"])
	assert.Equal(t, "img-1", body["pending_image_ref"])
	assert.InDelta(t, 1, body["processed_count"], 0)
	assert.NotContains(t, body, "processed")
}

func TestSessionEndpointError(t *testing.T) {
	srv, err := admin.NewServer(&stubSessions{err: errors.New("boom")})
	require.NoError(t, err)

	rec := serve(t, srv, http.MethodGet, "/sessions/alice", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv, err := admin.NewServer(&stubSessions{},
			admin.WithHealthCheck("storage", func(context.Context) error { return nil }))
		require.NoError(t, err)

		rec := serve(t, srv, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	})

	t.Run("degraded", func(t *testing.T) {
		srv, err := admin.NewServer(&stubSessions{},
			admin.WithHealthCheck("storage", func(context.Context) error { return errors.New("closed") }))
		require.NoError(t, err)

		rec := serve(t, srv, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"storage":"closed"`)
	})
}

func TestRegistryEndpoint(t *testing.T) {
	lookup := registry.NewMemory(registry.Record{Plate: "ABC123", VIN: "VCF1ZZZ", Active: true})
	srv, err := admin.NewServer(&stubSessions{}, admin.WithRegistry(lookup))
	require.NoError(t, err)

	rec := serve(t, srv, http.MethodGet, "/registry/abc123", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "VCF1ZZZ")

	rec = serve(t, srv, http.MethodGet, "/registry/ZZZ999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSightingsEndpoint(t *testing.T) {
	lister := &stubSightings{list: []storage.Sighting{{ID: "s1", Plate: "ABC123"}}}
	srv, err := admin.NewServer(&stubSessions{}, admin.WithSightings(lister))
	require.NoError(t, err)

	rec := serve(t, srv, http.MethodGet, "/sightings?plate=abc123&limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ABC123", lister.gotPlate)
	assert.Equal(t, 3, lister.gotLimit)
	assert.Contains(t, rec.Body.String(), `"s1"`)

	rec = serve(t, srv, http.MethodGet, "/sightings?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenRequired(t *testing.T) {
	srv, err := admin.NewServer(&stubSessions{}, admin.WithToken("secret"),
		admin.WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(t, srv, http.MethodGet, "/sessions/alice", nil).Code)

	auth := http.Header{"Authorization": []string{"Bearer secret"}}
	assert.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/sessions/alice", auth).Code)

	// Probes stay open.
	assert.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/metrics", nil).Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, err := admin.NewServer(&stubSessions{})
	require.NoError(t, err)

	rec := serve(t, srv, http.MethodPost, "/healthz", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewServerRequiresReader(t *testing.T) {
	_, err := admin.NewServer(nil)
	assert.Error(t, err)
}

func TestListenAndServeShutsDown(t *testing.T) {
	srv, err := admin.NewServer(&stubSessions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
