package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gramin-health/sehatsetu/libs/httpx"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// DoctorDirectory is the registry surface the doctor endpoints use.
type DoctorDirectory interface {
	Get(ctx context.Context, doctorID string) (model.Doctor, error)
	SetStatus(ctx context.Context, doctorID string, status model.OnlineStatus) error
}

type DoctorHandler struct {
	repo   DoctorDirectory
	logger *slog.Logger
}

func NewDoctorHandler(repo DoctorDirectory, logger *slog.Logger) *DoctorHandler {
	return &DoctorHandler{repo: repo, logger: logger}
}

func (h *DoctorHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if id == "" {
		http.Error(w, "doctor_id required", http.StatusBadRequest)
		return
	}
	doctor, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "doctor not found", http.StatusNotFound)
			return
		}
		h.logger.Error("doctor lookup failed", "err", err)
		http.Error(w, "failed to load doctor", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doctor)
}

type setStatusRequest struct {
	DoctorID string `json:"doctor_id"`
	Status   string `json:"status"`
}

// SetStatus flips the doctor's presence flag. Doctors going offline stop
// receiving new allocations immediately; existing appointments are untouched.
func (h *DoctorHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	status := model.OnlineStatus(strings.TrimSpace(req.Status))
	if req.DoctorID == "" {
		http.Error(w, "doctor_id required", http.StatusBadRequest)
		return
	}
	if !status.Valid() {
		http.Error(w, "status must be online, busy, or offline", http.StatusBadRequest)
		return
	}

	// When the route runs behind bearer auth, a doctor token may only flip
	// its own presence; admins may flip anyone's.
	if claims := httpx.ClaimsFromContext(r.Context()); claims != nil {
		if claims.Role == "doctor" && claims.Sub != req.DoctorID {
			http.Error(w, "cannot change another doctor's status", http.StatusForbidden)
			return
		}
	}

	if err := h.repo.SetStatus(r.Context(), req.DoctorID, status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "doctor not found", http.StatusNotFound)
			return
		}
		h.logger.Error("set status failed", "err", err, "doctor_id", req.DoctorID)
		http.Error(w, "failed to update status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"doctor_id": req.DoctorID,
		"status":    string(status),
	})
}
