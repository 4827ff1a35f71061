package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

// defaultHistoryLimit applies when ?limit is absent.
const defaultHistoryLimit = 20

// DeviceListResponse is the body of GET /groups/{groupID}/devices.
type DeviceListResponse struct {
	RequestID int64    `json:"request_id"`
	GroupID   string   `json:"group_id"`
	Devices   []string `json:"devices"`
}

// TemperatureResponse is the body of GET .../temperature.
type TemperatureResponse struct {
	GroupID  string                    `json:"group_id"`
	DeviceID string                    `json:"device_id"`
	Reading  device.TemperatureReading `json:"reading"`
}

// QueryResponse is the body of GET /groups/{groupID}/temperatures.
type QueryResponse struct {
	RequestID    int64                                `json:"request_id"`
	GroupID      string                               `json:"group_id"`
	Temperatures map[string]device.TemperatureReading `json:"temperatures"`
	Summary      device.Summary                       `json:"summary"`
	DurationMS   int64                                `json:"duration_ms"`
}

// recordTemperatureRequest is the body of PUT .../temperature.
type recordTemperatureRequest struct {
	Value *float64 `json:"value"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	list, err := s.devices.ListDevices(r.Context(), groupID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	ids := make([]string, 0, len(list.IDs))
	for id := range list.IDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	writeJSON(w, http.StatusOK, DeviceListResponse{
		RequestID: list.RequestID,
		GroupID:   list.GroupID,
		Devices:   ids,
	})
}

// handleTrackDevice registers a device. Tracking is idempotent, so the
// response is 200 whether or not the device existed.
func (s *Server) handleTrackDevice(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	deviceID := chi.URLParam(r, "deviceID")

	if _, err := s.devices.TrackDevice(r.Context(), groupID, deviceID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"group_id":  groupID,
		"device_id": deviceID,
		"status":    "tracked",
	})
}

func (s *Server) handlePassivateDevice(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	deviceID := chi.URLParam(r, "deviceID")

	if err := s.devices.PassivateDevice(r.Context(), groupID, deviceID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePassivateGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	if err := s.devices.PassivateGroup(r.Context(), groupID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadTemperature(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	deviceID := chi.URLParam(r, "deviceID")

	reading, err := s.devices.ReadTemperature(r.Context(), groupID, deviceID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TemperatureResponse{
		GroupID:  groupID,
		DeviceID: deviceID,
		Reading:  reading,
	})
}

// handleRecordTemperature records a value, tracking the device first if
// needed.
func (s *Server) handleRecordTemperature(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	deviceID := chi.URLParam(r, "deviceID")

	var req recordTemperatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "value is required")
		return
	}

	if err := s.devices.RecordTemperature(r.Context(), groupID, deviceID, *req.Value); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TemperatureResponse{
		GroupID:  groupID,
		DeviceID: deviceID,
		Reading:  device.Temperature{Value: *req.Value},
	})
}

// handleQueryTemperatures runs an aggregate query. ?timeout takes a Go
// duration ("500ms", "2s"); absent means the configured default.
func (s *Server) handleQueryTemperatures(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "timeout must be a positive duration such as 500ms")
			return
		}
		timeout = d
	}

	result, err := s.devices.QueryAllTemperatures(r.Context(), groupID, timeout)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		RequestID:    result.RequestID,
		GroupID:      result.GroupID,
		Temperatures: result.Temperatures,
		Summary:      result.Summary,
		DurationMS:   result.Duration.Milliseconds(),
	})
}

func (s *Server) handleQueryHistory(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.devices.QueryHistory(r.Context(), groupID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": groupID,
		"queries":  entries,
		"count":    len(entries),
	})
}
