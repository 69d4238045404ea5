package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/checkin"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/store"
)

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	svc *checkin.Service
	now func() time.Time
}

// NewHandler creates a Handler over the check-in service.
func NewHandler(svc *checkin.Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

// CreateSession registers a session configuration.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var cfg domain.SessionConfig
	if err := decodeValidated(r.Body, sessionSchema, &cfg); err != nil {
		writeBindError(w, err)
		return
	}
	saved, err := h.svc.RegisterSession(r.Context(), cfg)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	created(w, saved)
}

// GetSession returns one session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	ok(w, cfg)
}

// GetSessionStatus reports where now falls relative to the session window.
func (h *Handler) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.SessionStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	ok(w, st)
}

// ─── POST /api/v1/checkins/validate ──────────────────────────────────────────

// checkInBody is the client-facing subset of domain.CheckInRequest. History,
// receive time and IP are filled in server-side.
type checkInBody struct {
	StudentID       string                  `json:"student_id"`
	SessionID       string                  `json:"session_id"`
	ClientTimestamp time.Time               `json:"client_timestamp"`
	ClientTimezone  string                  `json:"client_timezone"`
	Location        *domain.LocationSample  `json:"location"`
	Device          *domain.DeviceSignals   `json:"device"`
	Photo           *domain.PhotoSubmission `json:"photo"`
}

// ValidateCheckIn scores a check-in attempt and returns the full verdict.
// A rejected attempt is still a 200: the verdict is the payload.
func (h *Handler) ValidateCheckIn(w http.ResponseWriter, r *http.Request) {
	var body checkInBody
	if err := decodeValidated(r.Body, checkInSchema, &body); err != nil {
		writeBindError(w, err)
		return
	}

	req := domain.CheckInRequest{
		StudentID:       strings.TrimSpace(body.StudentID),
		SessionID:       strings.TrimSpace(body.SessionID),
		ClientTimestamp: body.ClientTimestamp,
		ReceivedAt:      h.now().UTC(),
		ClientTimezone:  body.ClientTimezone,
		IPAddress:       clientIP(r),
		Location:        body.Location,
		Device:          body.Device,
		Photo:           body.Photo,
	}
	if req.Photo != nil && req.Photo.Size == 0 {
		req.Photo.Size = int64(len(req.Photo.Data))
	}

	res, err := h.svc.CheckIn(r.Context(), req)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	ok(w, res)
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

// ListAlerts returns alerts, newest first.
//
// Query params:
//
//	status, type, student_id, session_id: exact-match filters
//	limit: maximum number of alerts (1-500, default: all)
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AlertFilter{
		Status:    domain.AlertStatus(strings.ToUpper(q.Get("status"))),
		Type:      domain.AlertType(strings.ToUpper(q.Get("type"))),
		StudentID: q.Get("student_id"),
		SessionID: q.Get("session_id"),
	}
	if f.Status != "" && !validStatus(f.Status) {
		badRequest(w, "INVALID_PARAM", "status must be one of PENDING, INVESTIGATING, RESOLVED, DISMISSED")
		return
	}
	if f.Type != "" && !f.Type.Valid() {
		badRequest(w, "INVALID_PARAM", "unknown alert type '"+string(f.Type)+"'")
		return
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 500 {
			badRequest(w, "INVALID_PARAM", "limit must be an integer between 1 and 500")
			return
		}
		f.Limit = n
	}

	alerts, err := h.svc.Alerts(r.Context(), f)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []domain.FraudAlert{}
	}
	ok(w, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func validStatus(s domain.AlertStatus) bool {
	switch s {
	case domain.StatusPending, domain.StatusInvestigating, domain.StatusResolved, domain.StatusDismissed:
		return true
	}
	return false
}

// GetAlert returns one alert.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Alert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	ok(w, a)
}

type assignBody struct {
	Assignee string `json:"assignee"`
}

type noteBody struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

type resolveBody struct {
	Resolution string `json:"resolution"`
}

type dismissBody struct {
	Reason string `json:"reason"`
}

// AssignAlert starts or reassigns an investigation.
func (h *Handler) AssignAlert(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	if !decodeJSON(w, r, &body) {
		return
	}
	h.alertResult(w, r)(h.svc.AssignAlert(r.Context(), chi.URLParam(r, "id"), body.Assignee))
}

// AddAlertNote appends an investigation note.
func (h *Handler) AddAlertNote(w http.ResponseWriter, r *http.Request) {
	var body noteBody
	if !decodeJSON(w, r, &body) {
		return
	}
	h.alertResult(w, r)(h.svc.AddAlertNote(r.Context(), chi.URLParam(r, "id"), body.Author, body.Text))
}

// ResolveAlert closes an investigation.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if !decodeJSON(w, r, &body) {
		return
	}
	h.alertResult(w, r)(h.svc.ResolveAlert(r.Context(), chi.URLParam(r, "id"), body.Resolution))
}

// DismissAlert closes an alert as a false positive. The reason is optional.
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	var body dismissBody
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}
	h.alertResult(w, r)(h.svc.DismissAlert(r.Context(), chi.URLParam(r, "id"), body.Reason))
}

func (h *Handler) alertResult(w http.ResponseWriter, r *http.Request) func(domain.FraudAlert, error) {
	return func(a domain.FraudAlert, err error) {
		if err != nil {
			serviceError(w, r, err)
			return
		}
		ok(w, a)
	}
}

// ─── Students ─────────────────────────────────────────────────────────────────

// GetStudentDevices lists the devices bound to a student.
func (h *Handler) GetStudentDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	devices, err := h.svc.StudentDevices(r.Context(), id)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if devices == nil {
		devices = []domain.DeviceRecord{}
	}
	ok(w, map[string]any{"student_id": id, "devices": devices, "count": len(devices)})
}

// GetStudentAttempts lists a student's recent attempts.
//
// Query params:
//
//	days: look-back window in days (default: 7, max: 90)
func (h *Handler) GetStudentAttempts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	days := 7
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 || parsed > 90 {
			badRequest(w, "INVALID_PARAM", "days must be an integer between 1 and 90")
			return
		}
		days = parsed
	}
	since := h.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	attempts, err := h.svc.StudentAttempts(r.Context(), id, since)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []domain.ScoredAttempt{}
	}
	ok(w, map[string]any{
		"student_id": id,
		"period":     "last_" + strconv.Itoa(days) + "_days",
		"attempts":   attempts,
		"count":      len(attempts),
	})
}

// ─── GET /api/v1/reports/summary ─────────────────────────────────────────────

// GetReport summarises attempts and alerts.
//
// Query params:
//
//	hours: look-back window in hours (default: 24, max: 720)
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 720 {
			badRequest(w, "INVALID_PARAM", "hours must be an integer between 1 and 720")
			return
		}
		hours = parsed
	}
	rep, err := h.svc.Report(r.Context(), h.now().UTC().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	ok(w, rep)
}

// ─── Binding ──────────────────────────────────────────────────────────────────

func writeBindError(w http.ResponseWriter, err error) {
	if errors.Is(err, errInvalidJSON) {
		badRequest(w, "INVALID_JSON", err.Error())
		return
	}
	badRequest(w, "SCHEMA_VALIDATION", schemaMessage(err))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(dst); err != nil {
		badRequest(w, "INVALID_JSON", "request body must be valid JSON")
		return false
	}
	return true
}
