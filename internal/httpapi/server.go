package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-hail/internal/actors"
	"github.com/example/ride-hail/internal/availability"
	"github.com/example/ride-hail/internal/lifecycle"
	"github.com/example/ride-hail/internal/match"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/notify"
	"github.com/example/ride-hail/internal/rides"
)

// Server is a thin adapter over the exposed core operations. All
// invariants live below it; this layer only decodes, dispatches, and
// maps the error taxonomy onto status codes.
type Server struct {
	Actors       *actors.Registry
	Availability *availability.Registry
	Rides        *rides.Registry
	Engine       *match.Engine
	Scheduler    *lifecycle.Scheduler
	WSReg        *notify.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, a *actors.Registry, av *availability.Registry, r *rides.Registry, e *match.Engine, sch *lifecycle.Scheduler, ws *notify.WSRegistry) *Server {
	s := &Server{
		Actors:       a,
		Availability: av,
		Rides:        r,
		Engine:       e,
		Scheduler:    sch,
		WSReg:        ws,
		logger:       logger,
		mux:          mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/riders", s.handleRegisterRider).Methods("POST")
	api.HandleFunc("/riders/{id}", s.handleGetRider).Methods("GET")
	api.HandleFunc("/riders/{id}", s.handleUpdateRider).Methods("PUT")
	api.HandleFunc("/riders/{id}", s.handleDeleteRider).Methods("DELETE")
	api.HandleFunc("/riders/{id}/rides", s.handleRiderHistory).Methods("GET")
	api.HandleFunc("/riders/{id}/stats", s.handleRiderStats).Methods("GET")

	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods("POST")
	api.HandleFunc("/drivers/{id}", s.handleGetDriver).Methods("GET")
	api.HandleFunc("/drivers/{id}", s.handleUpdateDriver).Methods("PUT")
	api.HandleFunc("/drivers/{id}", s.handleDeleteDriver).Methods("DELETE")
	api.HandleFunc("/drivers/{id}/rides", s.handleDriverHistory).Methods("GET")
	api.HandleFunc("/drivers/{id}/stats", s.handleDriverStats).Methods("GET")
	api.HandleFunc("/drivers/{id}/availability", s.handleSetAvailable).Methods("POST")
	api.HandleFunc("/drivers/{id}/availability", s.handleGetAvailability).Methods("GET")
	api.HandleFunc("/drivers/{id}/availability", s.handleSetUnavailable).Methods("DELETE")
	api.HandleFunc("/drivers/{id}/matches", s.handleDriverMatches).Methods("GET")

	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleUpdateRide).Methods("PUT")
	api.HandleFunc("/rides/{id}", s.handleDeleteRide).Methods("DELETE")
	api.HandleFunc("/rides/{id}/candidates", s.handleRideCandidates).Methods("GET")
	api.HandleFunc("/rides/{id}/accept", s.handleAcceptRide).Methods("POST")
	api.HandleFunc("/rides/{id}/complete", s.handleCompleteRide).Methods("POST")
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods("POST")

	s.mux.HandleFunc("/internal/sweeps/{job}", s.handleRunSweep).Methods("POST")
	s.mux.HandleFunc("/ws/{contact_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleRegisterRider(w http.ResponseWriter, r *http.Request) {
	var rider models.Rider
	if err := json.NewDecoder(r.Body).Decode(&rider); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.Actors.RegisterRider(r.Context(), &rider); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rider)
}

func (s *Server) handleGetRider(w http.ResponseWriter, r *http.Request) {
	rider, err := s.Actors.GetRider(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rider)
}

func (s *Server) handleUpdateRider(w http.ResponseWriter, r *http.Request) {
	var rider models.Rider
	if err := json.NewDecoder(r.Body).Decode(&rider); err != nil {
		badRequest(w, err)
		return
	}
	rider.ID = mux.Vars(r)["id"]
	if err := s.Actors.UpdateRiderProfile(r.Context(), &rider); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rider)
}

func (s *Server) handleDeleteRider(w http.ResponseWriter, r *http.Request) {
	if err := s.Actors.DeleteRider(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var driver models.Driver
	if err := json.NewDecoder(r.Body).Decode(&driver); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.Actors.RegisterDriver(r.Context(), &driver); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, driver)
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	driver, err := s.Actors.GetDriver(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (s *Server) handleUpdateDriver(w http.ResponseWriter, r *http.Request) {
	var driver models.Driver
	if err := json.NewDecoder(r.Body).Decode(&driver); err != nil {
		badRequest(w, err)
		return
	}
	driver.ID = mux.Vars(r)["id"]
	if err := s.Actors.UpdateDriverProfile(r.Context(), &driver); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (s *Server) handleDeleteDriver(w http.ResponseWriter, r *http.Request) {
	if err := s.Actors.DeleteDriver(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type availabilityRequest struct {
	Location      models.GeoPoint `json:"location"`
	RadiusMiles   float64         `json:"radius_miles"`
	DurationHours float64         `json:"duration_hours,omitempty"`
}

func (s *Server) handleSetAvailable(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	dur := time.Duration(req.DurationHours * float64(time.Hour))
	a, err := s.Availability.SetAvailable(r.Context(), mux.Vars(r)["id"], req.Location, req.RadiusMiles, dur)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleGetAvailability(w http.ResponseWriter, r *http.Request) {
	a, ok, err := s.Availability.OpenAvailability(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"available": false, "reason": "not currently available"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": true, "availability": a})
}

func (s *Server) handleSetUnavailable(w http.ResponseWriter, r *http.Request) {
	if err := s.Availability.SetUnavailable(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverMatches(w http.ResponseWriter, r *http.Request) {
	cands, err := s.Engine.FindMatchesForDriverAvailability(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": cands})
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req rides.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	ride, err := s.Rides.CreateRide(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleUpdateRide(w http.ResponseWriter, r *http.Request) {
	var req rides.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	ride, err := s.Rides.UpdateRideDetails(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDeleteRide(w http.ResponseWriter, r *http.Request) {
	riderID := r.URL.Query().Get("rider_id")
	if riderID == "" {
		badRequestReason(w, "rider_id query parameter is required")
		return
	}
	if err := s.Rides.DeleteOpenRide(r.Context(), mux.Vars(r)["id"], riderID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRideCandidates(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	cands, err := s.Engine.FindDriversForRide(r.Context(), ride)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": cands})
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	ride, err := s.Rides.AcceptRide(r.Context(), mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	ride, err := s.Rides.CompleteRide(r.Context(), mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actor_id"`
		Role    string `json:"role"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	ride, err := s.Rides.CancelRide(r.Context(), mux.Vars(r)["id"], models.CancelActor(req.Role), req.ActorID, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRiderHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.Rides.HistoryForRider(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": history})
}

func (s *Server) handleDriverHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.Rides.HistoryForDriver(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": history})
}

func (s *Server) handleRiderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Rides.StatsForRider(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDriverStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Rides.StatsForDriver(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	job := mux.Vars(r)["job"]
	n, ok, err := s.Scheduler.RunJob(r.Context(), job)
	if !ok {
		badRequestReason(w, "unknown sweep job")
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "records": n})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	contactID := mux.Vars(r)["contact_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(contactID, conn)
}

// writeError maps the error taxonomy onto the wire. Conflicts and store
// faults are deliberately indistinguishable to callers: both mean "retry
// or inform the user", and internals never leak.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var vErr *models.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": vErr.Reason})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		if !errors.Is(err, models.ErrConflict) {
			s.logger.Error("operation failed", "error", err)
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no longer available"})
	}
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request: " + err.Error()})
}

func badRequestReason(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
