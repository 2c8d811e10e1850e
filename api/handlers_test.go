package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greybox/hackcore/auth"
	"github.com/greybox/hackcore/domain/process"
	"github.com/greybox/hackcore/engine"
	"github.com/greybox/hackcore/fanout"
	"github.com/greybox/hackcore/infrastructure/logging"
	"github.com/greybox/hackcore/infrastructure/metrics"
	"github.com/greybox/hackcore/validationcache"
)

func newTestServer(t *testing.T) (http.Handler, string) {
	t.Helper()
	repo := engine.NewMemoryRepository()
	log := logging.New("test-api", "error", "json")
	m := metrics.NewWithRegistry("test-api", prometheus.NewRegistry())
	hub := fanout.NewHub(log, m)
	svc := engine.NewService(repo, hub, process.DefaultBalanceTable(), log, m)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(svc.Stop)

	svc.RegisterServer(ctx, "S1", process.ResourceCaps{CPU: 1000, RAM: 2048})

	secret := []byte("test-secret")
	verifier := auth.NewVerifier(secret, validationcache.New())
	server := NewServer(svc, hub, verifier, log)
	router := NewRouter(server, verifier, log, m, 100, 100)

	token, err := auth.Issue(secret, "alice", nil, time.Hour)
	require.NoError(t, err)
	return router, token
}

func TestAPI_StartListCancel(t *testing.T) {
	router, token := newTestServer(t)

	body, _ := json.Marshal(startProcessRequest{
		Kind:          "scan",
		GatewayServer: "S1",
		TargetServer:  "victim-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/processes", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created processResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	listReq := httptest.NewRequest(http.MethodGet, "/processes", nil)
	listReq.Header.Set("Authorization", "Bearer "+token)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	assert.Equal(t, http.StatusOK, listRec.Code)

	cancelReq := httptest.NewRequest(http.MethodDelete, "/processes/"+created.ID, nil)
	cancelReq.Header.Set("Authorization", "Bearer "+token)
	cancelRec := httptest.NewRecorder()
	router.ServeHTTP(cancelRec, cancelReq)
	assert.Equal(t, http.StatusNoContent, cancelRec.Code)
}

func TestAPI_RequiresAuth(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/processes", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_Healthz(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
