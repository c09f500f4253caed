// Package api exposes the HTTP control surface of the tracker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/gymtracker/internal/auth"
	"example.com/gymtracker/internal/geo"
	"example.com/gymtracker/internal/location"
	"example.com/gymtracker/internal/tracker"
)

// Tracking is the subset of the tracker façade the handlers drive.
type Tracking interface {
	Snapshot() tracker.Snapshot
	StartTracking(ctx context.Context, userID string) error
	StopTracking(ctx context.Context) error
	Refresh(ctx context.Context) (tracker.Snapshot, error)
}

// FixPublisher accepts location fixes pushed by the device.
type FixPublisher interface {
	Publish(fix location.Fix)
}

// Handler coordinates HTTP requests with the tracker.
type Handler struct {
	tracking Tracking
	fixes    FixPublisher
	now      func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(tracking Tracking, fixes FixPublisher) *Handler {
	return &Handler{tracking: tracking, fixes: fixes, now: time.Now}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/tracking", h.snapshot)
	mux.HandleFunc("/v1/tracking/start", h.start)
	mux.HandleFunc("/v1/tracking/stop", h.stop)
	mux.HandleFunc("/v1/tracking/refresh", h.refresh)
	mux.HandleFunc("/v1/location/fixes", h.publishFix)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := authorize(w, r, auth.ScopeTrackingRead, auth.ScopeTrackingWrite); !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.tracking.Snapshot())
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := authorize(w, r, auth.ScopeTrackingWrite)
	if !ok {
		return
	}

	var req StartTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = claims.Subject
	}
	if userID != claims.Subject {
		writeError(w, http.StatusForbidden, "forbidden", "cannot start tracking for another user")
		return
	}

	err := h.tracking.StartTracking(r.Context(), userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.tracking.Snapshot())
	case errors.Is(err, tracker.ErrForegroundPermissionDenied):
		writeError(w, http.StatusForbidden, "location_permission_denied", err.Error())
	case errors.Is(err, tracker.ErrMissingUser):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := authorize(w, r, auth.ScopeTrackingWrite); !ok {
		return
	}
	if err := h.tracking.StopTracking(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.tracking.Snapshot())
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := authorize(w, r, auth.ScopeTrackingRead, auth.ScopeTrackingWrite); !ok {
		return
	}
	snap, err := h.tracking.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) publishFix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := authorize(w, r, auth.ScopeLocationWrite); !ok {
		return
	}

	var req LocationFixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	fix, err := req.Fix(h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	h.fixes.Publish(fix)
	w.WriteHeader(http.StatusAccepted)
}

// authorize checks that the request carries one of the scopes and writes the
// error response when it does not.
func authorize(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

// StartTrackingRequest is the optional payload for POST /v1/tracking/start.
type StartTrackingRequest struct {
	UserID string `json:"user_id"`
}

// LocationFixRequest is the payload for POST /v1/location/fixes.
type LocationFixRequest struct {
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	Accuracy  float64   `json:"accuracy_meters"`
	Timestamp time.Time `json:"timestamp"`
}

// Fix validates the request and converts it. A missing timestamp becomes now.
func (r LocationFixRequest) Fix(now time.Time) (location.Fix, error) {
	if r.Latitude == nil || r.Longitude == nil {
		return location.Fix{}, errors.New("latitude and longitude are required")
	}
	if r.Accuracy < 0 {
		return location.Fix{}, errors.New("accuracy_meters must be >= 0")
	}
	coord := geo.Coordinate{Latitude: *r.Latitude, Longitude: *r.Longitude}
	if err := coord.Validate(); err != nil {
		return location.Fix{}, err
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return location.Fix{Coordinate: coord, Accuracy: r.Accuracy, Timestamp: ts.UTC()}, nil
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
