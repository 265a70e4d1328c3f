// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/wq-cluster/wqd/internal/cluster"
	"github.com/wq-cluster/wqd/internal/liveness"
	"github.com/wq-cluster/wqd/internal/queue"
	"github.com/wq-cluster/wqd/internal/spool"
	"github.com/wq-cluster/wqd/internal/users"
	"github.com/wq-cluster/wqd/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T, ready chan struct{}) *Server {
	t.Helper()

	dir := t.TempDir()
	clusterPath := filepath.Join(dir, "cluster.txt")
	require.NoError(t, os.WriteFile(clusterPath, []byte("n1 4 100000 grpA\n"), 0o644))

	c, err := cluster.Load(clusterPath)
	require.NoError(t, err)

	sp, err := spool.New(filepath.Join(dir, "spool"))
	require.NoError(t, err)

	reg := users.NewRegistry(filepath.Join(dir, "spool", "users.yaml"))
	q := queue.New(c, reg, sp, liveness.NewFake())

	return New("", q, metrics.NewInMemoryCollector(), ready)
}

func TestHealthz_NotReadyUntilSignaled(t *testing.T) {
	ready := make(chan struct{})
	s := newTestAdmin(t, ready)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(ready)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics_ReturnsStats(t *testing.T) {
	s := newTestAdmin(t, make(chan struct{}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats metrics.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
}

func TestStat_ReturnsClusterSnapshot(t *testing.T) {
	s := newTestAdmin(t, make(chan struct{}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stat", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var nodes []cluster.NodeStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "n1", nodes[0].Hostname)
}
