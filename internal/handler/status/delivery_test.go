package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pbspro/sched-ctl/config"
	"github.com/pbspro/sched-ctl/internal/domain/registry"
	"github.com/pbspro/sched-ctl/internal/service/fanout"
	"github.com/pbspro/sched-ctl/internal/service/supervisor"
)

func TestServeSnapshotReportsOccupancyAndState(t *testing.T) {
	reg := registry.New()
	client := fanout.NewClient(nil, nil)
	sup := supervisor.New(&config.Config{}, reg, nil, nil, supervisor.NewPassthroughPolicy(), nil, nil, nil, nil)

	h := NewHandler(nil, reg, client, sup, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.serveSnapshot(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, "Idle", snap.SupervisorState)
	require.Empty(t, snap.Connections)
}
