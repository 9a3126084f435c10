package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cepro/energymgr/history"
	"github.com/cepro/energymgr/persistence"
)

// Server serves the dashboard's JSON endpoints and its websocket push feed.
type Server struct {
	hub    *Hub
	store  *persistence.Store
	logger *slog.Logger

	// inMemory holds the latest computed snapshot; GetData prefers it and only falls back to the persisted
	// file when it is empty (spec §6 "falling back to the persisted JSON if empty").
	inMemory *persistence.Snapshot

	// Recalculate triggers an out-of-band scheduler run (wired to main's runDailySchedule). Left nil in
	// tests that don't need it.
	Recalculate func() error

	// SetActionsEnabled and ActionsEnabled wire the operator-facing "actions enabled" toggle through to the
	// PBC orchestrator (spec §7 "Actions enabled").
	SetActionsEnabled func(enabled bool)
	ActionsEnabled    func() bool

	// History serves the rolling snapshot buffer and persisted event log (spec C11, grounded on
	// PbrHistoryManager). Left nil in tests that don't need it.
	History *history.Manager
}

// NewServer creates a dashboard Server backed by store for the persisted fallback and hub for push updates.
func NewServer(store *persistence.Store, hub *Hub) *Server {
	return &Server{store: store, hub: hub, logger: slog.Default()}
}

// SetSnapshot updates the in-memory snapshot and broadcasts it to connected websocket clients.
func (s *Server) SetSnapshot(snap persistence.Snapshot) {
	s.inMemory = &snap
	if body, err := json.Marshal(snap); err == nil {
		s.hub.Broadcast(body)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleGetData implements "GET load_scheduler_data" (spec §6).
func (s *Server) HandleGetData(w http.ResponseWriter, r *http.Request) {
	var snap persistence.Snapshot
	if s.inMemory != nil {
		snap = *s.inMemory
	} else {
		loaded, err := s.store.Load()
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		snap = loaded
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type resetDebtRequest struct {
	DeviceName string `json:"device_name"`
}

type resetDebtResponse struct {
	Success    bool     `json:"success"`
	ResetCount int      `json:"reset_count"`
	Devices    []string `json:"devices"`
}

// HandlePostResetDebt implements "POST load_scheduler_reset_debt" (spec §6).
func (s *Server) HandlePostResetDebt(w http.ResponseWriter, r *http.Request) {
	var req resetDebtRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // optional body; absence means "reset all"
	}

	var names []string
	if req.DeviceName != "" {
		names = []string{req.DeviceName}
	}

	reset, err := s.store.ResetDebt(names)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, resetDebtResponse{Success: true, ResetCount: len(reset), Devices: reset})
}

type recalculateResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HandlePostRecalculate triggers an immediate scheduler recalculation, outside the daily scheduled run. Used
// by the operator REPL's recalculate command (spec §6, operator convenience endpoint).
func (s *Server) HandlePostRecalculate(w http.ResponseWriter, r *http.Request) {
	if s.Recalculate == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "recalculate not wired"})
		return
	}
	if err := s.Recalculate(); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, recalculateResponse{Success: false, Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, recalculateResponse{Success: true})
}

type actionsEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type actionsEnabledResponse struct {
	Enabled bool `json:"enabled"`
}

// HandleGetActionsEnabled reports the PBC orchestrator's current actions-enabled flag.
func (s *Server) HandleGetActionsEnabled(w http.ResponseWriter, r *http.Request) {
	if s.ActionsEnabled == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "actions-enabled not wired"})
		return
	}
	s.writeJSON(w, http.StatusOK, actionsEnabledResponse{Enabled: s.ActionsEnabled()})
}

// HandlePostActionsEnabled toggles the PBC orchestrator's actions-enabled flag (spec §4.9 step 1, §7).
func (s *Server) HandlePostActionsEnabled(w http.ResponseWriter, r *http.Request) {
	if s.SetActionsEnabled == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "actions-enabled not wired"})
		return
	}
	var req actionsEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.SetActionsEnabled(req.Enabled)
	s.writeJSON(w, http.StatusOK, actionsEnabledResponse{Enabled: req.Enabled})
}

// HandleGetHistory implements "GET history", returning the rolling snapshot buffer and event log for the
// last ?hours= window (default 24). Grounded on PbrHistoryManager.get_history.
func (s *Server) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "history not wired"})
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			hours = parsed
		}
	}

	s.writeJSON(w, http.StatusOK, s.History.GetHistory(time.Duration(hours)*time.Hour))
}

// HandleWebSocket upgrades the connection and registers it with the Hub for push updates.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Dashboard websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	s.hub.register(c)
	go c.writePump()
	c.readPump(s.hub)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode dashboard response", "error", err)
	}
}

// RegisterRoutes wires the Server's handlers onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/load_scheduler_data", s.HandleGetData)
	mux.HandleFunc("/load_scheduler_reset_debt", s.HandlePostResetDebt)
	mux.HandleFunc("/recalculate", s.HandlePostRecalculate)
	mux.HandleFunc("/actions_enabled", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			s.HandlePostActionsEnabled(w, r)
			return
		}
		s.HandleGetActionsEnabled(w, r)
	})
	mux.HandleFunc("/history", s.HandleGetHistory)
	mux.HandleFunc("/ws", s.HandleWebSocket)
}
