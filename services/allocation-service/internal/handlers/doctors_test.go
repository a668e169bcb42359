package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gramin-health/sehatsetu/libs/auth"
	"github.com/gramin-health/sehatsetu/libs/httpx"
	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
	"github.com/jackc/pgx/v5"
)

type fakeDirectory struct {
	doctors  map[string]model.Doctor
	statuses map[string]model.OnlineStatus
}

func newFakeDirectory(doctors ...model.Doctor) *fakeDirectory {
	d := &fakeDirectory{doctors: map[string]model.Doctor{}, statuses: map[string]model.OnlineStatus{}}
	for _, doc := range doctors {
		d.doctors[doc.ID] = doc
	}
	return d
}

func (d *fakeDirectory) Get(ctx context.Context, doctorID string) (model.Doctor, error) {
	doc, ok := d.doctors[doctorID]
	if !ok {
		return model.Doctor{}, pgx.ErrNoRows
	}
	return doc, nil
}

func (d *fakeDirectory) SetStatus(ctx context.Context, doctorID string, status model.OnlineStatus) error {
	if _, ok := d.doctors[doctorID]; !ok {
		return pgx.ErrNoRows
	}
	d.statuses[doctorID] = status
	return nil
}

const testSecret = "test-secret"

func bearerToken(t *testing.T, sub, role string) string {
	t.Helper()
	now := time.Now().Unix()
	token, err := auth.SignHS256(auth.Claims{Sub: sub, Role: role, Iat: now, Exp: now + 300}, testSecret)
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}
	return token
}

func postStatus(t *testing.T, h http.Handler, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSetStatusOwnPresence(t *testing.T) {
	dir := newFakeDirectory(model.Doctor{ID: "doc-1"})
	h := NewDoctorHandler(dir, testLogger())
	protected := httpx.WithBearerAuth(testSecret, "doctor", "admin")(http.HandlerFunc(h.SetStatus))

	rec := postStatus(t, protected, `{"doctor_id":"doc-1","status":"busy"}`, bearerToken(t, "doc-1", "doctor"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if dir.statuses["doc-1"] != model.StatusBusy {
		t.Fatalf("status not applied: %v", dir.statuses)
	}
}

func TestSetStatusRejectsOtherDoctor(t *testing.T) {
	dir := newFakeDirectory(model.Doctor{ID: "doc-1"}, model.Doctor{ID: "doc-2"})
	h := NewDoctorHandler(dir, testLogger())
	protected := httpx.WithBearerAuth(testSecret, "doctor", "admin")(http.HandlerFunc(h.SetStatus))

	rec := postStatus(t, protected, `{"doctor_id":"doc-2","status":"offline"}`, bearerToken(t, "doc-1", "doctor"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}
	if _, ok := dir.statuses["doc-2"]; ok {
		t.Fatal("status must not be applied")
	}
}

func TestSetStatusAdminMayFlipAnyone(t *testing.T) {
	dir := newFakeDirectory(model.Doctor{ID: "doc-1"})
	h := NewDoctorHandler(dir, testLogger())
	protected := httpx.WithBearerAuth(testSecret, "doctor", "admin")(http.HandlerFunc(h.SetStatus))

	rec := postStatus(t, protected, `{"doctor_id":"doc-1","status":"offline"}`, bearerToken(t, "admin-1", "admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if dir.statuses["doc-1"] != model.StatusOffline {
		t.Fatalf("status not applied: %v", dir.statuses)
	}
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	dir := newFakeDirectory(model.Doctor{ID: "doc-1"})
	h := NewDoctorHandler(dir, testLogger())

	rec := postJSON(t, h.SetStatus, `{"doctor_id":"doc-1","status":"away"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSetStatusUnknownDoctor(t *testing.T) {
	dir := newFakeDirectory()
	h := NewDoctorHandler(dir, testLogger())

	rec := postJSON(t, h.SetStatus, `{"doctor_id":"ghost","status":"online"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetDoctorNotFound(t *testing.T) {
	h := NewDoctorHandler(newFakeDirectory(), testLogger())
	req := httptest.NewRequest(http.MethodGet, "/?doctor_id=ghost", nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
