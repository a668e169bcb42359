package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/allocation"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
)

// Allocator is the allocation pipeline the HTTP layer drives.
type Allocator interface {
	Allocate(ctx context.Context, req allocation.Request) (allocation.Result, error)
}

type AllocationHandler struct {
	allocator Allocator
	logger    *slog.Logger
}

func NewAllocationHandler(allocator Allocator, logger *slog.Logger) *AllocationHandler {
	return &AllocationHandler{allocator: allocator, logger: logger}
}

type allocateRequest struct {
	PatientID         string   `json:"patientId"`
	Specialty         string   `json:"specialty"`
	UrgencyLevel      string   `json:"urgencyLevel"`
	PreferredLanguage string   `json:"preferredLanguage"`
	ConsultationMode  string   `json:"consultationMode"`
	District          string   `json:"district"`
	Symptoms          []string `json:"symptoms"`
}

type alternativeItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	District    string   `json:"district"`
	Specialties []string `json:"specialties"`
	RatingAvg   float64  `json:"rating_avg"`
}

type noDoctorResponse struct {
	Error                 string            `json:"error"`
	Urgency               string            `json:"urgency"`
	SuggestedAlternatives []alternativeItem `json:"suggestedAlternatives"`
}

func (h *AllocationHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.PatientID == "" {
		http.Error(w, "patientId required", http.StatusBadRequest)
		return
	}
	urgency, ok := model.ParseUrgency(strings.TrimSpace(req.UrgencyLevel))
	if !ok {
		http.Error(w, "invalid urgencyLevel", http.StatusBadRequest)
		return
	}

	result, err := h.allocator.Allocate(r.Context(), allocation.Request{
		PatientID:         req.PatientID,
		Specialty:         strings.TrimSpace(req.Specialty),
		Urgency:           urgency,
		PreferredLanguage: strings.TrimSpace(req.PreferredLanguage),
		Mode:              model.ConsultationMode(strings.TrimSpace(req.ConsultationMode)),
		District:          strings.TrimSpace(req.District),
		Symptoms:          req.Symptoms,
	})
	if err != nil {
		h.writeAllocateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *AllocationHandler) writeAllocateError(w http.ResponseWriter, err error) {
	if errors.Is(err, allocation.ErrPatientNotFound) {
		http.Error(w, "patient not found", http.StatusNotFound)
		return
	}

	var noMatch *allocation.NoEligibleDoctorError
	if errors.As(err, &noMatch) {
		alts := make([]alternativeItem, 0, len(noMatch.Alternatives))
		for _, d := range noMatch.Alternatives {
			alts = append(alts, alternativeItem{
				ID:          d.ID,
				Name:        d.Name,
				District:    d.District,
				Specialties: d.Specialties,
				RatingAvg:   d.Quality.RatingAvg,
			})
		}
		writeJSON(w, http.StatusNotFound, noDoctorResponse{
			Error:                 noMatch.Error(),
			Urgency:               string(noMatch.Urgency),
			SuggestedAlternatives: alts,
		})
		return
	}

	var persist *allocation.PersistenceError
	if errors.As(err, &persist) {
		h.logger.Error("allocation persistence failed", "op", persist.Op, "err", persist.Err)
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}

	h.logger.Error("allocation failed", "err", err)
	http.Error(w, "allocation failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
