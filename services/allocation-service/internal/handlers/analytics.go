package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/allocation"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/analytics"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/registry"
)

type AnalyticsHandler struct {
	doctors  *registry.Repository
	patients allocation.PatientDirectory
	logger   *slog.Logger
}

func NewAnalyticsHandler(doctors *registry.Repository, patients allocation.PatientDirectory, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{doctors: doctors, patients: patients, logger: logger}
}

// Workload serves per-district capacity aggregates for the admin dashboard.
func (h *AnalyticsHandler) Workload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.doctors.WorkloadStats(r.Context())
	if err != nil {
		h.logger.Error("workload stats failed", "err", err)
		http.Error(w, "failed to load workload stats", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []registry.DistrictStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

type noShowRiskResponse struct {
	PatientID string               `json:"patient_id"`
	Risk      analytics.NoShowRisk `json:"risk"`
}

func (h *AnalyticsHandler) NoShowRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	if patientID == "" {
		http.Error(w, "patient_id required", http.StatusBadRequest)
		return
	}

	history, err := h.patients.History(r.Context(), patientID)
	if err != nil {
		h.logger.Error("history lookup failed", "err", err, "patient_id", patientID)
		http.Error(w, "failed to load patient history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, noShowRiskResponse{
		PatientID: patientID,
		Risk:      analytics.AssessNoShowRisk(history),
	})
}
