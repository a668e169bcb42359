package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/storage"
)

// AppointmentStore is the appointment lifecycle surface the HTTP layer uses.
type AppointmentStore interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	Confirm(ctx context.Context, id string) (model.Appointment, error)
	Start(ctx context.Context, id string) (model.Appointment, error)
	Complete(ctx context.Context, id string) (model.Appointment, error)
	Cancel(ctx context.Context, id string, reason string) (model.Appointment, error)
	MarkNoShow(ctx context.Context, id string) (model.Appointment, error)
	Reschedule(ctx context.Context, id string, newStart time.Time, durationMinutes int) (model.Appointment, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string, limit int) ([]model.Appointment, error)
}

type AppointmentHandler struct {
	store  AppointmentStore
	logger *slog.Logger
}

func NewAppointmentHandler(store AppointmentStore, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{store: store, logger: logger}
}

type appointmentIDRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type rescheduleRequest struct {
	AppointmentID   string `json:"appointment_id"`
	NewStartTime    string `json:"new_start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if id == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	appt, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.store.Confirm)
}

func (h *AppointmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.store.Start)
}

func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.store.Complete)
}

func (h *AppointmentHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.store.MarkNoShow)
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	appt, err := h.store.Cancel(r.Context(), req.AppointmentID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	newStart, err := time.Parse(time.RFC3339, req.NewStartTime)
	if err != nil {
		http.Error(w, "invalid new_start_time", http.StatusBadRequest)
		return
	}
	appt, err := h.store.Reschedule(r.Context(), req.AppointmentID, newStart, req.DurationMinutes)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if (patientID == "") == (doctorID == "") {
		http.Error(w, "exactly one of patient_id or doctor_id required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var appts []model.Appointment
	var err error
	if patientID != "" {
		appts, err = h.store.ListByPatient(r.Context(), patientID, limit)
	} else {
		appts, err = h.store.ListByDoctor(r.Context(), doctorID, limit)
	}
	if err != nil {
		h.logger.Error("list appointments failed", "err", err)
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

func (h *AppointmentHandler) simpleTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (model.Appointment, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req appointmentIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	appt, err := op(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) writeLifecycleError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrAppointmentNotFound) {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	var invalid *storage.InvalidTransitionError
	if errors.As(err, &invalid) {
		http.Error(w, invalid.Error(), http.StatusConflict)
		return
	}
	h.logger.Error("appointment operation failed", "err", err)
	http.Error(w, "appointment operation failed", http.StatusInternalServerError)
}
