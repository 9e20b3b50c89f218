package handler

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/pesio-ai/be-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-approvals/internal/platform/middleware"
	"github.com/pesio-ai/be-approvals/internal/service"
	"github.com/pesio-ai/be-approvals/internal/workflow"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// HTTPHandler serves the JSON API.
type HTTPHandler struct {
	service  *service.ApprovalService
	validate *validator.Validate
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc *service.ApprovalService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service:  svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// Routes registers the API on mux.
func (h *HTTPHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/requests", h.Submit)
	mux.HandleFunc("GET /api/v1/requests/pending", h.ListPending)
	mux.HandleFunc("GET /api/v1/requests/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/requests/{id}/history", h.History)
	mux.HandleFunc("POST /api/v1/requests/{id}/approve", h.Approve)
	mux.HandleFunc("POST /api/v1/requests/{id}/reject", h.Reject)
	mux.HandleFunc("POST /api/v1/requests/{id}/skip", h.SkipToFinalStage)
	mux.HandleFunc("GET /api/v1/kinds", h.Kinds)
}

type submitBody struct {
	Kind        string `json:"kind" validate:"required,max=64"`
	Title       string `json:"title" validate:"required,max=200"`
	Category    string `json:"category" validate:"max=100"`
	Amount      int64  `json:"amount" validate:"gte=0"`
	Description string `json:"description" validate:"max=4000"`
	SkipNext    bool   `json:"skip_next"`
}

type rejectBody struct {
	Remark string `json:"remark" validate:"max=2000"`
}

// Submit handles POST /api/v1/requests.
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body submitBody
	if !h.decode(w, r, &body) {
		return
	}

	req, err := h.service.Submit(r.Context(), service.SubmitRequest{
		Kind:        body.Kind,
		Title:       body.Title,
		Category:    body.Category,
		Amount:      body.Amount,
		Description: body.Description,
		SkipNext:    body.SkipNext,
	}, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// Get handles GET /api/v1/requests/{id}.
func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// History handles GET /api/v1/requests/{id}/history.
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.History(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListPending handles GET /api/v1/requests/pending?kind=.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	kind := q.Get("kind")
	if kind == "" {
		h.writeError(w, r, errors.InvalidInput("kind", "kind is required"))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	reqs, total, err := h.service.ListPending(r.Context(), actor, kind, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": reqs,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// Approve handles POST /api/v1/requests/{id}/approve.
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, err := h.service.Approve(r.Context(), r.PathValue("id"), actor)
	h.writeTransition(w, r, req, err)
}

// Reject handles POST /api/v1/requests/{id}/reject.
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body rejectBody
	if !h.decodeOptional(w, r, &body) {
		return
	}
	req, err := h.service.Reject(r.Context(), r.PathValue("id"), actor, body.Remark)
	h.writeTransition(w, r, req, err)
}

// SkipToFinalStage handles POST /api/v1/requests/{id}/skip.
func (h *HTTPHandler) SkipToFinalStage(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, err := h.service.SkipToFinalStage(r.Context(), r.PathValue("id"), actor)
	h.writeTransition(w, r, req, err)
}

// Kinds handles GET /api/v1/kinds.
func (h *HTTPHandler) Kinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"kinds": h.service.Kinds()})
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := middleware.ActorFromContext(r.Context())
	if actor == "" {
		h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, middleware.ActorHeader+" header is required"))
		return "", false
	}
	return actor, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return h.decodeBody(w, r, dst, false)
}

// decodeOptional accepts an empty body as the zero value of dst.
func (h *HTTPHandler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	return h.decodeBody(w, r, dst, true)
}

func (h *HTTPHandler) decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !(allowEmpty && stderrors.Is(err, io.EOF)) {
		h.writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		msg := err.Error()
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			h.writeError(w, r, errors.InvalidInput(verrs[0].Field(), "failed on "+verrs[0].Tag()))
			return false
		}
		h.writeError(w, r, errors.New(errors.ErrCodeInvalidInput, msg))
		return false
	}
	return true
}

func (h *HTTPHandler) writeTransition(w http.ResponseWriter, r *http.Request, req *workflow.Request, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	class := classify(err)
	if class.status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, class.status, errorResponse{
		Error:     err.Error(),
		Code:      class.name,
		Retryable: class.retryable,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
