// Package api exposes the phase switcher over HTTP, in the shape of
// aj9599/zev-billing's mux+cors router construction generalized from a
// CRUD/auth API to a small command/query surface. No handler touches
// internal/switcher.Switcher directly — every command is marshaled
// onto the scheduler goroutine via scheduler.Harness.Defer.
package api

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"fenwick-energy/phase-switcher/internal/config"
	"fenwick-energy/phase-switcher/internal/logic"
	"fenwick-energy/phase-switcher/internal/scheduler"
	"fenwick-energy/phase-switcher/internal/switcher"
	"fenwick-energy/phase-switcher/internal/telemetry"
)

// Deps are the collaborators the router's handlers close over.
type Deps struct {
	Switcher    *switcher.Switcher
	Scheduler   *scheduler.Harness
	ConfigStore *config.Store
	Recorder    *telemetry.Recorder
	Now         func() time.Time
	Log         logrus.FieldLogger
}

// Server wraps the router and manages websocket subscribers.
type Server struct {
	deps Deps
	log  logrus.FieldLogger

	upgrader websocket.Upgrader

	wsMu   sync.Mutex
	wsSubs map[*websocket.Conn]struct{}

	debugLogging bool
}

// New builds a Server. Use Handler() for the http.Handler and
// BroadcastSnapshot to push a snapshot to every connected websocket
// client (the scheduler's snapshot-publish task calls both this and
// Switcher.PublishSnapshot each tick).
func New(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Server{
		deps:     deps,
		log:      log.WithField("component", "api"),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		wsSubs:   make(map[*websocket.Conn]struct{}),
	}
}

// Handler builds the phase switcher's HTTP handler and registers every
// command/query/history/websocket route it exposes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/phase_switcher/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/phase_switcher/available_charging_power", s.handleAvailablePower).Methods(http.MethodPost)
	r.HandleFunc("/phase_switcher/start_quick_charging", s.handleStartQuickCharging).Methods(http.MethodPost)
	r.HandleFunc("/phase_switcher/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/phase_switcher/config", s.handlePutConfig).Methods(http.MethodPut)
	r.HandleFunc("/phase_switcher/requested_power_history", s.handleRequestedPowerHistory).Methods(http.MethodGet)
	r.HandleFunc("/phase_switcher/charging_power_history", s.handleChargingPowerHistory).Methods(http.MethodGet)
	r.HandleFunc("/phase_switcher/requested_phases_history", s.handleRequestedPhasesHistory).Methods(http.MethodGet)
	r.HandleFunc("/phase_switcher/start_debug", s.handleStartDebug).Methods(http.MethodGet)
	r.HandleFunc("/phase_switcher/stop_debug", s.handleStopDebug).Methods(http.MethodGet)
	r.HandleFunc("/phase_switcher/ws", s.handleWebsocket).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})

	return c.Handler(r)
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.WithField("stack", string(debug.Stack())).Errorf("panic recovered: %v", err)
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("request handled")
	})
}

// stateJSON matches phase_switcher.cpp:update_all_data's field set,
// wrapped in the "phase_switcher" envelope status.StatusJSON established.
type stateJSON struct {
	PhaseSwitcher stateInner `json:"phase_switcher"`
}

type stateInner struct {
	AvailablePower         uint16 `json:"available_power"`
	RequestedPhases        uint8  `json:"requested_phases"`
	RequestedPhasesPending uint8  `json:"requested_phases_pending"`
	ActivePhases           uint8  `json:"active_phases"`
	SequencerState         string `json:"sequencer_state"`
	TimeSinceStateChange   int64  `json:"time_since_state_change"`
	DelayTime              int64  `json:"delay_time"`
	ContactorError         bool   `json:"contactor_error"`
	QuickChargingActive    bool   `json:"quick_charging_active"`
	SessionID              string `json:"session_id,omitempty"`
}

func toStateJSON(snap switcher.StateSnapshot) stateJSON {
	return stateJSON{PhaseSwitcher: stateInner{
		AvailablePower:         snap.AvailablePowerW,
		RequestedPhases:        snap.RequestedPhases,
		RequestedPhasesPending: snap.RequestedPhasesPending,
		ActivePhases:           snap.ActivePhases,
		SequencerState:         snap.SequencerState.String(),
		TimeSinceStateChange:   snap.TimeSinceStateChangeS,
		DelayTime:              snap.DelayTimeS,
		ContactorError:         snap.ContactorError,
		QuickChargingActive:    snap.QuickChargingActive,
		SessionID:              snap.SessionID,
	}}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	done := make(chan switcher.StateSnapshot, 1)
	s.deps.Scheduler.Defer(func() {
		done <- s.deps.Switcher.Snapshot(s.deps.Now())
	})
	writeJSON(w, http.StatusOK, toStateJSON(<-done))
}

type availablePowerRequest struct {
	PowerW uint16 `json:"power_w"`
}

func (s *Server) handleAvailablePower(w http.ResponseWriter, r *http.Request) {
	var req availablePowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	done := make(chan error, 1)
	s.deps.Scheduler.Defer(func() {
		done <- s.deps.Switcher.SetAvailablePower(s.deps.Now(), req.PowerW)
	})

	if err := <-done; err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStartQuickCharging(w http.ResponseWriter, r *http.Request) {
	done := make(chan bool, 1)
	s.deps.Scheduler.Defer(func() {
		done <- s.deps.Switcher.StartQuickCharging(s.deps.Now())
	})
	accepted := <-done

	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.ConfigStore.Load()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	writeJSON(w, http.StatusOK, configToJSON(cfg))
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req configJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg := configFromJSON(req)

	saved, err := s.deps.ConfigStore.Save(cfg)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to save config")
		return
	}

	s.deps.Scheduler.Defer(func() {
		s.deps.Switcher.Reload(saved)
	})

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRequestedPowerHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Recorder.RequestedPowerHistory())
}

func (s *Server) handleChargingPowerHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Recorder.ChargingPowerHistory())
}

func (s *Server) handleRequestedPhasesHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Recorder.RequestedPhasesHistory())
}

func (s *Server) handleStartDebug(w http.ResponseWriter, r *http.Request) {
	s.debugLogging = true
	s.log.Info("debug logging enabled")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStopDebug(w http.ResponseWriter, r *http.Request) {
	s.debugLogging = false
	s.log.Info("debug logging disabled")
	w.WriteHeader(http.StatusOK)
}

// handleWebsocket upgrades the connection and registers it as a
// snapshot subscriber; it sends nothing itself, BroadcastSnapshot pushes
// state as the scheduler publishes it. The connection is dropped from
// the subscriber set the first time a write to it fails.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	s.wsMu.Lock()
	s.wsSubs[conn] = struct{}{}
	s.wsMu.Unlock()

	// The client never sends anything meaningful; reading until the
	// connection closes is what detects disconnects promptly instead of
	// waiting for the next failed broadcast write.
	go func() {
		defer s.dropSubscriber(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropSubscriber(conn *websocket.Conn) {
	s.wsMu.Lock()
	delete(s.wsSubs, conn)
	s.wsMu.Unlock()
	conn.Close()
}

// BroadcastSnapshot pushes snap to every connected websocket subscriber,
// the supplemental live-push counterpart to the periodic MQTT publish
// (SPEC_FULL.md §3.14).
func (s *Server) BroadcastSnapshot(snap switcher.StateSnapshot) {
	payload := toStateJSON(snap)

	s.wsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.wsSubs))
	for c := range s.wsSubs {
		conns = append(conns, c)
	}
	s.wsMu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(payload); err != nil {
			s.dropSubscriber(c)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type configJSON struct {
	Enabled       bool  `json:"enabled"`
	OperatingMode uint8 `json:"operating_mode"`
	DelayUpS      int   `json:"delay_up_s"`
	DelayDownS    int   `json:"delay_down_s"`
	MinDurationS  int   `json:"min_duration_s"`
	PauseTimeS    int   `json:"pause_time_s"`
}

func configToJSON(cfg logic.Config) configJSON {
	return configJSON{
		Enabled:       cfg.Enabled,
		OperatingMode: uint8FromMode(cfg.OperatingMode),
		DelayUpS:      int(cfg.DelayUp / time.Second),
		DelayDownS:    int(cfg.DelayDown / time.Second),
		MinDurationS:  int(cfg.MinDuration / time.Second),
		PauseTimeS:    int(cfg.PauseTime / time.Second),
	}
}

func configFromJSON(j configJSON) logic.Config {
	return logic.Config{
		Enabled:       j.Enabled,
		OperatingMode: logic.OperatingMode(j.OperatingMode),
		DelayUp:       time.Duration(j.DelayUpS) * time.Second,
		DelayDown:     time.Duration(j.DelayDownS) * time.Second,
		MinDuration:   time.Duration(j.MinDurationS) * time.Second,
		PauseTime:     time.Duration(j.PauseTimeS) * time.Second,
	}
}

func uint8FromMode(m logic.OperatingMode) uint8 {
	// OperatingMode's largest defined value (123) still fits uint8, so
	// this is a direct narrowing conversion, not a lossy one.
	return uint8(m)
}
