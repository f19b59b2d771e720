package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/arduino"
)

type ArduinoStatusResponse struct {
	Connected  bool      `json:"connected"`
	LastUpdate time.Time `json:"lastUpdate"`
}

type PumpRequest struct {
	State bool `json:"state"`
}

type PumpResponse struct {
	Success   bool `json:"success"`
	PumpState bool `json:"pumpState"`
}

const notConnectedMessage = "Arduino not connected"

func (s *Server) deviceConnected() bool {
	return s.device != nil && s.device.IsConnected()
}

func (s *Server) getArduinoStatus(w http.ResponseWriter, r *http.Request) {
	resp := ArduinoStatusResponse{Connected: s.deviceConnected(), LastUpdate: time.Now()}
	if s.device != nil {
		resp.LastUpdate = s.device.LastUpdate()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) controlPump(w http.ResponseWriter, r *http.Request) {
	var req PumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if !s.deviceConnected() {
		s.writeError(w, http.StatusServiceUnavailable, notConnectedMessage)
		return
	}

	if err := s.device.ControlPump(req.State); err != nil {
		s.writeDeviceError(w, err)
		return
	}

	description := "Pump turned off manually"
	if req.State {
		description = "Pump turned on manually"
	}
	if err := s.logActivity(description, "Command sent directly to the controller", "fas fa-tint"); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Bool("state", req.State).Msg("Pump command sent via API")
	s.writeJSON(w, http.StatusOK, PumpResponse{Success: true, PumpState: req.State})
}

func (s *Server) clearEmergency(w http.ResponseWriter, r *http.Request) {
	if !s.deviceConnected() {
		s.writeError(w, http.StatusServiceUnavailable, notConnectedMessage)
		return
	}
	if err := s.device.ClearEmergency(); err != nil {
		s.writeDeviceError(w, err)
		return
	}
	if err := s.logActivity("Emergency mode cleared", "Command sent directly to the controller", "fas fa-undo"); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// writeDeviceError maps a lost connection to 503 and anything else to 500.
func (s *Server) writeDeviceError(w http.ResponseWriter, err error) {
	if errors.Is(err, arduino.ErrNotConnected) || errors.Is(err, arduino.ErrClosed) {
		s.writeError(w, http.StatusServiceUnavailable, notConnectedMessage)
		return
	}
	log.Error().Err(err).Msg("Controller command failed")
	s.writeError(w, http.StatusInternalServerError, err.Error())
}
