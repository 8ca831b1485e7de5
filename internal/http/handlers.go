package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-notifier/internal/dispatch"
	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/models"
	"github.com/example/ride-notifier/internal/reconciler"
	"github.com/example/ride-notifier/internal/status"
)

// Options wires the operator API to the running notifier.
type Options struct {
	Reconciler *reconciler.Reconciler
	Updater    *status.Updater
	// Creator is optional; without it POST /api/v1/rides answers 501.
	Creator       feed.Creator
	Notifications *dispatch.WSHub
	Logger        *slog.Logger
}

type Server struct {
	rec     *reconciler.Reconciler
	updater *status.Updater
	creator feed.Creator
	notify  *dispatch.WSHub
	rides   *dispatch.WSHub
	logger  *slog.Logger
	mux     *mux.Router

	// ridesMu orders the initial list sent to a new /ws/rides client
	// against view change broadcasts.
	ridesMu     sync.Mutex
	ridesDirty  chan struct{}
	stopRides   chan struct{}
	pumpDone    chan struct{}
	closeOnce   sync.Once
	unsubscribe func()
}

// RidesFrame is the message pushed on /ws/rides.
type RidesFrame struct {
	Type  string        `json:"type"`
	Rides []models.Ride `json:"rides"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type statusResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notify := opts.Notifications
	if notify == nil {
		notify = dispatch.NewWSHub(logger)
	}
	s := &Server{
		rec:     opts.Reconciler,
		updater: opts.Updater,
		creator: opts.Creator,
		notify:  notify,
		rides:   dispatch.NewWSHub(logger),
		logger:  logger,
		mux:     mux.NewRouter(),

		ridesDirty: make(chan struct{}, 1),
		stopRides:  make(chan struct{}),
		pumpDone:   make(chan struct{}),
	}
	// The view calls listeners while the reconciler holds its lock, so the
	// listener only marks the list dirty and the pump does the socket writes.
	s.unsubscribe = s.rec.View().OnChange(func([]models.Ride) {
		select {
		case s.ridesDirty <- struct{}{}:
		default:
		}
	})
	go s.pumpRides()
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides", s.handleListRides).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides", s.handleCreateRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{id}/status", s.handleUpdateStatus).Methods("POST")
	s.mux.HandleFunc("/ws/rides", s.handleRidesWS)
	s.mux.HandleFunc("/ws/notifications", s.handleNotificationsWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Close stops view broadcasts and disconnects websocket clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		close(s.stopRides)
		<-s.pumpDone
		s.rides.Close()
		s.notify.Close()
	})
}

// pumpRides broadcasts the current list once per burst of view changes.
// Every frame is read under ridesMu, so a client never receives an older
// list after a newer one.
func (s *Server) pumpRides() {
	defer close(s.pumpDone)
	for {
		select {
		case <-s.stopRides:
			return
		case <-s.ridesDirty:
			s.ridesMu.Lock()
			s.rides.Broadcast(RidesFrame{Type: "rides", Rides: s.rec.View().CurrentList()})
			s.ridesMu.Unlock()
		}
	}
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rec.View().CurrentList())
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ride, ok := s.rec.View().Get(id)
	if !ok {
		http.Error(w, "ride not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	if s.creator == nil {
		http.Error(w, "ride creation not supported by this backend", http.StatusNotImplemented)
		return
	}
	var rr models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&rr); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.creator.Create(r.Context(), rr)
	if err != nil {
		var malformed *models.MalformedRecordError
		if errors.As(err, &malformed) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("create ride failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		http.Error(w, "create failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Message: err.Error()})
		return
	}
	st, err := models.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Message: err.Error()})
		return
	}
	if !s.updater.UpdateStatus(r.Context(), id, st) {
		writeJSON(w, http.StatusBadGateway, statusResponse{Message: "status update failed for ride " + id})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{OK: true, Message: "ride " + id + " is now " + string(st)})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.rec.SnapshotApplied() {
		http.Error(w, "snapshot not loaded", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleRidesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	s.ridesMu.Lock()
	id := s.rides.Add(conn)
	err = s.rides.Send(id, RidesFrame{Type: "rides", Rides: s.rec.View().CurrentList()})
	s.ridesMu.Unlock()
	if err != nil {
		s.logger.Warn("ws initial send failed", "session", id, "error", err)
		s.rides.Remove(id)
		return
	}
	s.rides.Serve(id)
}

func (s *Server) handleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	s.notify.Serve(s.notify.Add(conn))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
