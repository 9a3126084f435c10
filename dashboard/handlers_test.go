package dashboard

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cepro/energymgr/history"
	"github.com/cepro/energymgr/persistence"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := persistence.NewStore(filepath.Join(t.TempDir(), "snapshot.json"))
	return NewServer(store, NewHub())
}

func TestHandleGetDataPrefersInMemorySnapshot(t *testing.T) {
	s := newTestServer(t)
	s.SetSnapshot(persistence.Snapshot{Package: "in-memory"})

	req := httptest.NewRequest(http.MethodGet, "/load_scheduler_data", nil)
	rec := httptest.NewRecorder()
	s.HandleGetData(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap persistence.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, "in-memory", snap.Package)
}

func TestHandleGetDataFallsBackToStoreWhenEmpty(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.Save(persistence.Snapshot{Package: "persisted"}))

	req := httptest.NewRequest(http.MethodGet, "/load_scheduler_data", nil)
	rec := httptest.NewRecorder()
	s.HandleGetData(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap persistence.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, "persisted", snap.Package)
}

func TestHandlePostResetDebtResetsNamedDevice(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.Save(persistence.Snapshot{Devices: []persistence.DeviceSnapshot{
		{Name: "boiler", EnergyDebt: 5},
		{Name: "heater", EnergyDebt: 3},
	}}))

	body, _ := json.Marshal(resetDebtRequest{DeviceName: "boiler"})
	req := httptest.NewRequest(http.MethodPost, "/load_scheduler_reset_debt", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.HandlePostResetDebt(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp resetDebtResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, []string{"boiler"}, resp.Devices)

	snap, err := s.store.Load()
	require.NoError(t, err)
	require.Equal(t, 0, snap.Devices[0].EnergyDebt)
	require.Equal(t, 3, snap.Devices[1].EnergyDebt, "heater should be untouched")
}

func TestHandlePostRecalculateReturnsServiceUnavailableWhenNotWired(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/recalculate", nil)
	rec := httptest.NewRecorder()
	s.HandlePostRecalculate(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlePostRecalculateInvokesWiredCallback(t *testing.T) {
	s := newTestServer(t)
	called := false
	s.Recalculate = func() error { called = true; return nil }

	req := httptest.NewRequest(http.MethodPost, "/recalculate", nil)
	rec := httptest.NewRecorder()
	s.HandlePostRecalculate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, called)
}

func TestHandleGetHistoryReturnsServiceUnavailableWhenNotWired(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	rec := httptest.NewRecorder()
	s.HandleGetHistory(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleGetHistoryReturnsWiredWindow(t *testing.T) {
	s := newTestServer(t)
	s.History = history.NewManager(filepath.Join(t.TempDir(), "events.json"))
	require.NoError(t, s.History.AddEvent("mode_change", "normal -> buy", nil))

	req := httptest.NewRequest(http.MethodGet, "/history?hours=1", nil)
	rec := httptest.NewRecorder()
	s.HandleGetHistory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var window history.Window
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &window))
	require.Len(t, window.Events, 1)
}

func TestActionsEnabledRoundTrip(t *testing.T) {
	s := newTestServer(t)
	enabled := true
	s.ActionsEnabled = func() bool { return enabled }
	s.SetActionsEnabled = func(v bool) { enabled = v }

	body, _ := json.Marshal(actionsEnabledRequest{Enabled: false})
	postReq := httptest.NewRequest(http.MethodPost, "/actions_enabled", bytes.NewReader(body))
	postRec := httptest.NewRecorder()
	s.HandlePostActionsEnabled(postRec, postReq)
	require.Equal(t, http.StatusOK, postRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/actions_enabled", nil)
	getRec := httptest.NewRecorder()
	s.HandleGetActionsEnabled(getRec, getReq)

	var resp actionsEnabledResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &resp))
	require.False(t, resp.Enabled)
}
