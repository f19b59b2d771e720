package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/config"
	"github.com/thatsimonsguy/greenhouse-controller/internal/controls"
	"github.com/thatsimonsguy/greenhouse-controller/internal/metrics"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/reconciler"
	"github.com/thatsimonsguy/greenhouse-controller/internal/store"
	"github.com/thatsimonsguy/greenhouse-controller/internal/weather"
)

// Hub is the realtime side of the server.
type Hub interface {
	Broadcast(eventType string, data any)
	ServeWS(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

type Controls interface {
	Get() (model.ControlState, error)
	Update(ctx context.Context, mutate func(model.ControlState) model.ControlState) (controls.Change, error)
}

// Device is the attached controller, if any.
type Device interface {
	IsConnected() bool
	LastUpdate() time.Time
	ControlPump(on bool) error
	ClearEmergency() error
}

type Weather interface {
	Current(ctx context.Context) weather.Data
}

type Server struct {
	store    store.Store
	controls Controls
	rc       *reconciler.Reconciler
	hub      Hub
	device   Device
	weather  Weather
	config   *config.Config
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type IDResponse struct {
	ID int64 `json:"id"`
}

type SensorDataRequest struct {
	Temperature   *float64 `json:"temperature"`
	Humidity      *float64 `json:"humidity"`
	LightLevel    *float64 `json:"lightLevel"`
	SoilMoisture  *float64 `json:"soilMoisture"`
	WaterLevel    *float64 `json:"waterLevel"`
	PumpStatus    bool     `json:"pumpStatus"`
	EmergencyMode bool     `json:"emergencyMode"`
}

type AlertRequest struct {
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Type    model.AlertType `json:"type"`
	IsRead  bool            `json:"isRead"`
}

type IrrigateRequest struct {
	Duration *int `json:"duration"`
}

const defaultWaterLevel = 75

func NewServer(cfg *config.Config, st store.Store, ctl Controls, rc *reconciler.Reconciler, h Hub) *Server {
	return &Server{
		store:    st,
		controls: ctl,
		rc:       rc,
		hub:      h,
		config:   cfg,
	}
}

// SetDevice attaches the serial controller. Without one every hardware
// endpoint answers 503.
func (s *Server) SetDevice(d Device) { s.device = d }

func (s *Server) SetWeather(w Weather) { s.weather = w }

// Router builds the full route table wrapped in CORS handling.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sensor-data/latest", s.getLatestReading).Methods(http.MethodGet)
	api.HandleFunc("/sensor-data/history", s.getReadingHistory).Methods(http.MethodGet)
	api.HandleFunc("/sensor-data", s.postReading).Methods(http.MethodPost)

	api.HandleFunc("/system-controls", s.getControls).Methods(http.MethodGet)
	api.HandleFunc("/system-controls", s.putControls).Methods(http.MethodPut)

	api.HandleFunc("/irrigation-schedules", s.getSchedules).Methods(http.MethodGet)
	api.HandleFunc("/irrigation-schedules", s.createSchedule).Methods(http.MethodPost)
	api.HandleFunc("/irrigation-schedules/{id}", s.updateSchedule).Methods(http.MethodPut)
	api.HandleFunc("/irrigation-schedules/{id}", s.deleteSchedule).Methods(http.MethodDelete)

	api.HandleFunc("/system-alerts", s.getAlerts).Methods(http.MethodGet)
	api.HandleFunc("/system-alerts", s.createAlert).Methods(http.MethodPost)
	api.HandleFunc("/system-alerts/{id}/read", s.markAlertRead).Methods(http.MethodPut)
	api.HandleFunc("/system-alerts/{id}", s.deleteAlert).Methods(http.MethodDelete)

	api.HandleFunc("/system-activity", s.getActivity).Methods(http.MethodGet)

	api.HandleFunc("/actions/irrigate", s.irrigate).Methods(http.MethodPost)
	api.HandleFunc("/actions/emergency-stop", s.emergencyStop).Methods(http.MethodPost)
	api.HandleFunc("/actions/pending-timers", s.getPendingTimers).Methods(http.MethodGet)

	api.HandleFunc("/arduino/status", s.getArduinoStatus).Methods(http.MethodGet)
	api.HandleFunc("/arduino/pump", s.controlPump).Methods(http.MethodPost)
	api.HandleFunc("/arduino/clear-emergency", s.clearEmergency).Methods(http.MethodPost)

	api.HandleFunc("/weather", s.getWeather).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.ServeWS)

	origins := []string{"*"}
	if s.config != nil && len(s.config.AllowedOrigins) > 0 {
		origins = s.config.AllowedOrigins
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

// Start serves until ctx is cancelled, then drains for up to five seconds.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", srv.Addr).Msg("Starting REST API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) getLatestReading(w http.ResponseWriter, r *http.Request) {
	reading, err := s.store.LatestReading()
	if err != nil {
		s.writeStoreError(w, err, "Failed to fetch sensor data")
		return
	}
	s.writeJSON(w, http.StatusOK, reading)
}

func (s *Server) getReadingHistory(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	readings, err := s.store.ReadingHistory(time.Now().Add(-time.Duration(hours) * time.Hour))
	if err != nil {
		log.Error().Err(err).Int("hours", hours).Msg("Failed to get reading history")
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch sensor history")
		return
	}
	s.writeJSON(w, http.StatusOK, readings)
}

func (s *Server) postReading(w http.ResponseWriter, r *http.Request) {
	var req SensorDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Temperature == nil || req.Humidity == nil || req.LightLevel == nil || req.SoilMoisture == nil {
		s.writeError(w, http.StatusBadRequest, "Invalid sensor data: temperature, humidity, lightLevel and soilMoisture are required")
		return
	}

	reading := model.SensorReading{
		Temperature:   *req.Temperature,
		Humidity:      *req.Humidity,
		LightLevel:    *req.LightLevel,
		SoilMoisture:  *req.SoilMoisture,
		WaterLevel:    defaultWaterLevel,
		PumpStatus:    req.PumpStatus,
		EmergencyMode: req.EmergencyMode,
	}
	if req.WaterLevel != nil {
		reading.WaterLevel = *req.WaterLevel
	}

	saved, err := s.rc.Ingest(reading)
	if err != nil {
		log.Error().Err(err).Msg("Failed to ingest sensor data")
		s.writeError(w, http.StatusInternalServerError, "Failed to store sensor data")
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) getControls(w http.ResponseWriter, r *http.Request) {
	c, err := s.controls.Get()
	if err != nil {
		s.writeStoreError(w, err, "Failed to fetch system controls")
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) putControls(w http.ResponseWriter, r *http.Request) {
	var patch model.ControlsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	change, err := s.controls.Update(r.Context(), patch.Apply)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update system controls")
		s.writeError(w, http.StatusInternalServerError, "Failed to update system controls")
		return
	}

	fields := patch.Fields()
	if err := s.logActivity("System configuration updated", "Controls changed: "+strings.Join(fields, ", "), "fas fa-cog"); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.hub.Broadcast(model.EventSystemControls, change.After)

	log.Info().Strs("fields", fields).Msg("System controls updated via API")
	s.writeJSON(w, http.StatusOK, change.After)
}

func (s *Server) getSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.Schedules()
	if err != nil {
		log.Error().Err(err).Msg("Failed to get schedules")
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch irrigation schedules")
		return
	}
	s.writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req model.SchedulePatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Name == nil || req.Time == nil || req.Duration == nil {
		s.writeError(w, http.StatusBadRequest, "Invalid schedule data: name, time and duration are required")
		return
	}
	if msg := validateSchedulePatch(req); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	schedule := req.Apply(model.IrrigationSchedule{IsActive: true})
	saved, err := s.store.CreateSchedule(schedule)
	if err != nil {
		log.Error().Err(err).Str("name", schedule.Name).Msg("Failed to create schedule")
		s.writeError(w, http.StatusInternalServerError, "Failed to create schedule")
		return
	}

	if err := s.logActivity("New irrigation schedule created", fmt.Sprintf("%s scheduled for %s", saved.Name, saved.Time), "fas fa-shower"); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.hub.Broadcast(model.EventScheduleCreated, saved)
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var patch model.SchedulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if msg := validateSchedulePatch(patch); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	saved, err := s.store.UpdateSchedule(id, patch)
	if err != nil {
		s.writeStoreError(w, err, "Failed to update schedule")
		return
	}
	s.rc.ScheduleChanged(id)

	if err := s.logActivity("Irrigation schedule updated", saved.Name+" modified", "fas fa-edit"); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.hub.Broadcast(model.EventScheduleUpdated, saved)
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteSchedule(id); err != nil {
		s.writeStoreError(w, err, "Failed to delete schedule")
		return
	}
	s.rc.ScheduleChanged(id)

	if err := s.logActivity("Irrigation schedule deleted", fmt.Sprintf("Schedule ID %d deleted", id), "fas fa-trash"); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.hub.Broadcast(model.EventScheduleDeleted, IDResponse{ID: id})
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.Alerts()
	if err != nil {
		log.Error().Err(err).Msg("Failed to get alerts")
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch alerts")
		return
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) createAlert(w http.ResponseWriter, r *http.Request) {
	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Title == "" || req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "Invalid alert data: title and message are required")
		return
	}
	if !model.ValidAlertType(req.Type) {
		s.writeError(w, http.StatusBadRequest, "Invalid alert type. Valid types: info, warning, error")
		return
	}

	saved, err := s.rc.CreateAlert(model.SystemAlert{Title: req.Title, Message: req.Message, Type: req.Type, IsRead: req.IsRead})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create alert")
		s.writeError(w, http.StatusInternalServerError, "Failed to create alert")
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) markAlertRead(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.MarkAlertRead(id); err != nil {
		s.writeStoreError(w, err, "Failed to mark alert as read")
		return
	}
	s.hub.Broadcast(model.EventAlertRead, IDResponse{ID: id})
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) deleteAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteAlert(id); err != nil {
		s.writeStoreError(w, err, "Failed to delete alert")
		return
	}
	s.hub.Broadcast(model.EventAlertDeleted, IDResponse{ID: id})
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	activity, err := s.store.RecentActivity(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get activity")
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch activity")
		return
	}
	s.writeJSON(w, http.StatusOK, activity)
}

func (s *Server) irrigate(w http.ResponseWriter, r *http.Request) {
	var req IrrigateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
	}
	duration := 5
	if req.Duration != nil {
		duration = *req.Duration
	}
	if duration <= 0 {
		s.writeError(w, http.StatusBadRequest, "Duration must be a positive number of minutes")
		return
	}

	if _, err := s.rc.StartIrrigation(r.Context(), duration); err != nil {
		log.Error().Err(err).Int("minutes", duration).Msg("Failed to start irrigation")
		s.writeError(w, http.StatusInternalServerError, "Failed to start irrigation")
		return
	}

	log.Info().Int("minutes", duration).Msg("Manual irrigation started via API")
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: fmt.Sprintf("Irrigation started for %d minutes", duration)})
}

func (s *Server) emergencyStop(w http.ResponseWriter, r *http.Request) {
	if _, err := s.rc.EmergencyStop(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to execute emergency stop")
		s.writeError(w, http.StatusInternalServerError, "Failed to execute emergency stop")
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Emergency stop activated"})
}

func (s *Server) getPendingTimers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rc.PendingTimers())
}

func (s *Server) getWeather(w http.ResponseWriter, r *http.Request) {
	if s.weather == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Weather service not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.weather.Current(r.Context()))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"arduinoConnected": s.deviceConnected(),
		"clients":          s.hub.ClientCount(),
	})
}

func (s *Server) logActivity(description, details, icon string) error {
	if _, err := s.store.LogActivity(model.SystemActivity{Description: description, Details: details, Icon: icon}); err != nil {
		log.Error().Err(err).Str("activity", description).Msg("Failed to record activity")
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "Invalid ID")
		return 0, false
	}
	return id, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Not found")
		return
	}
	log.Error().Err(err).Msg(message)
	s.writeError(w, http.StatusInternalServerError, message)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func validateSchedulePatch(p model.SchedulePatch) string {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return "Schedule name must not be empty"
	}
	if p.Time != nil {
		if _, err := time.Parse("15:04", *p.Time); err != nil {
			return "Schedule time must be HH:MM"
		}
	}
	if p.Duration != nil && *p.Duration <= 0 {
		return "Schedule duration must be a positive number of minutes"
	}
	return ""
}
