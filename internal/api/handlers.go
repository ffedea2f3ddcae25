package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snapstash/snapstash/internal/capture"
	"github.com/snapstash/snapstash/pkg/models"
)

// CaptureService is the session-manager surface the router calls into.
type CaptureService interface {
	Capture(ctx context.Context, req models.CaptureRequest) (*models.CaptureResult, error)
	SessionInfo(userID string) models.SessionInfo
}

// CaptureLister serves the stored-artifact read path.
type CaptureLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]models.CaptureRecord, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc    CaptureService
	lister CaptureLister
	log    zerolog.Logger
}

func NewHandler(svc CaptureService, lister CaptureLister, log zerolog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		lister: lister,
		log:    log,
	}
}

// captureResponse is the stable caller-facing result shape.
type captureResponse struct {
	Success bool     `json:"success"`
	Key     string   `json:"key,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Capture handles POST /v1/capture with a form-encoded url field.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	viewports, err := parseViewports(r.PostForm["viewport"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := models.CaptureRequest{
		URL:       r.PostFormValue("url"),
		UserID:    userID,
		FullPage:  isTruthy(r.PostFormValue("fullpage")),
		Viewports: viewports,
	}
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "missing url")
		return
	}

	result, err := h.svc.Capture(r.Context(), req)
	if err != nil {
		h.log.Error().Err(err).Str("userId", userID).Str("url", req.URL).Msg("capture failed")
		h.respondError(w, statusForError(err), capture.Message(err))
		return
	}

	resp := captureResponse{Success: true}
	if len(viewports) == 0 && len(result.Keys) == 1 {
		resp.Key = result.Keys[0]
	} else {
		resp.Keys = result.Keys
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// CapturePlaceholder handles GET /v1/capture. The read path is reserved;
// this responds with a placeholder until it exists.
func (h *Handler) CapturePlaceholder(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "capture retrieval is not available yet",
		"url":     r.URL.Query().Get("url"),
	})
}

// ListCaptures handles GET /v1/captures.
func (h *Handler) ListCaptures(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok || userID == "" {
		h.respondError(w, http.StatusBadRequest, "missing user identity")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	records, err := h.lister.ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("userId", userID).Msg("failed to list captures")
		h.respondError(w, http.StatusInternalServerError, "failed to list captures")
		return
	}
	if records == nil {
		records = []models.CaptureRecord{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"captures": records,
	})
}

// SessionInfo handles GET /v1/session.
func (h *Handler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok || userID == "" {
		h.respondError(w, http.StatusBadRequest, "missing user identity")
		return
	}
	h.respondJSON(w, http.StatusOK, h.svc.SessionInfo(userID))
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MethodNotAllowed rejects any method the capture surface does not serve.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, captureResponse{Success: false, Error: msg})
}

// statusForError maps the capture error taxonomy onto HTTP status codes:
// input defects are the caller's fault, everything else is ours.
func statusForError(err error) int {
	switch capture.KindOf(err) {
	case capture.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseViewports(raw []string) ([]models.Viewport, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	viewports := make([]models.Viewport, 0, len(raw))
	for _, v := range raw {
		wstr, hstr, ok := strings.Cut(v, "x")
		if !ok {
			return nil, &viewportError{v}
		}
		width, werr := strconv.Atoi(wstr)
		height, herr := strconv.Atoi(hstr)
		if werr != nil || herr != nil || width <= 0 || height <= 0 {
			return nil, &viewportError{v}
		}
		viewports = append(viewports, models.Viewport{Width: width, Height: height})
	}
	return viewports, nil
}

type viewportError struct {
	raw string
}

func (e *viewportError) Error() string {
	return "invalid viewport " + strconv.Quote(e.raw) + ", expected WIDTHxHEIGHT"
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
