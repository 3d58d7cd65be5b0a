package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/copy"
	"github.com/shelfmark/shelfmark/modules/circulation/domain/aggregates/loan"
	"github.com/shelfmark/shelfmark/modules/circulation/services"
	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
	"github.com/shelfmark/shelfmark/pkg/application"
	"github.com/shelfmark/shelfmark/pkg/configuration"
	"github.com/shelfmark/shelfmark/pkg/httpapi"
	"github.com/shelfmark/shelfmark/pkg/middleware"
)

type CirculationAPIController struct {
	app         application.Application
	circulation *services.CirculationService
	basePath    string
}

func NewCirculationAPIController(app application.Application) application.Controller {
	return &CirculationAPIController{
		app:         app,
		circulation: app.Service(services.CirculationService{}).(*services.CirculationService),
		basePath:    "/circulation/api",
	}
}

func (c *CirculationAPIController) Key() string {
	return c.basePath
}

func (c *CirculationAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(middleware.RequireTenant())
	router.HandleFunc("/loans", c.ListLoans).Methods(http.MethodGet)
	// Checkout and checkin open their own transactions around the row
	// locks, so they skip the write middleware.
	router.HandleFunc("/checkout", c.Checkout).Methods(http.MethodPost)
	router.HandleFunc("/checkin", c.Checkin).Methods(http.MethodPost)
}

func (c *CirculationAPIController) ListLoans(w http.ResponseWriter, r *http.Request) {
	conf := configuration.Use()
	params := &loan.FindParams{Limit: conf.PageSize}

	if v := strings.TrimSpace(r.URL.Query().Get("member_id")); v != "" {
		memberID, err := uuid.Parse(v)
		if err != nil {
			_ = httpapi.WriteError(w, r, http.StatusBadRequest, "LOAN_INVALID_MEMBER", "invalid member_id")
			return
		}
		params.MemberID = &memberID
	}
	if v := strings.TrimSpace(r.URL.Query().Get("copy_id")); v != "" {
		copyID, err := uuid.Parse(v)
		if err != nil {
			_ = httpapi.WriteError(w, r, http.StatusBadRequest, "LOAN_INVALID_COPY", "invalid copy_id")
			return
		}
		params.CopyID = &copyID
	}
	if v := strings.TrimSpace(r.URL.Query().Get("open")); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			_ = httpapi.WriteError(w, r, http.StatusBadRequest, "LOAN_INVALID_FILTER", "open must be a boolean")
			return
		}
		params.OpenOnly = open
	}
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= conf.MaxPageSize {
			params.Limit = parsed
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			params.Offset = parsed
		}
	}

	loans, total, err := c.circulation.GetPaginated(r.Context(), params)
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "LOAN_INTERNAL", "internal error")
		return
	}
	items := make([]map[string]any, 0, len(loans))
	for _, l := range loans {
		items = append(items, loanPayload(l))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

type checkoutRequest struct {
	CopyID   uuid.UUID `json:"copy_id"`
	MemberID uuid.UUID `json:"member_id"`
}

func (c *CirculationAPIController) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "LOAN_INVALID_BODY", "invalid request body")
		return
	}
	if req.CopyID == uuid.Nil || req.MemberID == uuid.Nil {
		_ = httpapi.WriteError(w, r, http.StatusUnprocessableEntity, "LOAN_MISSING_FIELDS", "copy_id and member_id are required")
		return
	}

	created, err := c.circulation.Checkout(r.Context(), req.CopyID, req.MemberID)
	switch {
	case errors.Is(err, member.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "LOAN_MEMBER_NOT_FOUND", "member not found")
	case errors.Is(err, copy.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "LOAN_COPY_NOT_FOUND", "copy not found")
	case errors.Is(err, loan.ErrMemberInactive):
		_ = httpapi.WriteError(w, r, http.StatusConflict, "LOAN_MEMBER_INACTIVE", "member is not active")
	case errors.Is(err, loan.ErrCopyUnavailable):
		_ = httpapi.WriteError(w, r, http.StatusConflict, "LOAN_COPY_UNAVAILABLE", "copy is not available")
	case err != nil:
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "LOAN_INTERNAL", "internal error")
	default:
		_ = httpapi.WriteJSON(w, http.StatusCreated, loanPayload(created))
	}
}

type checkinRequest struct {
	CopyID uuid.UUID `json:"copy_id"`
}

func (c *CirculationAPIController) Checkin(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "LOAN_INVALID_BODY", "invalid request body")
		return
	}
	if req.CopyID == uuid.Nil {
		_ = httpapi.WriteError(w, r, http.StatusUnprocessableEntity, "LOAN_MISSING_FIELDS", "copy_id is required")
		return
	}

	closed, err := c.circulation.Checkin(r.Context(), req.CopyID)
	switch {
	case errors.Is(err, copy.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "LOAN_COPY_NOT_FOUND", "copy not found")
	case errors.Is(err, loan.ErrNoOpenLoan):
		_ = httpapi.WriteError(w, r, http.StatusConflict, "LOAN_NOT_OPEN", "copy has no open loan")
	case err != nil:
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "LOAN_INTERNAL", "internal error")
	default:
		_ = httpapi.WriteJSON(w, http.StatusOK, loanPayload(closed))
	}
}

func loanPayload(l loan.Loan) map[string]any {
	return map[string]any{
		"id":             l.ID,
		"copy_id":        l.CopyID,
		"member_id":      l.MemberID,
		"checked_out_at": l.CheckedOutAt,
		"due_at":         l.DueAt,
		"returned_at":    l.ReturnedAt,
		"open":           l.Open(),
	}
}
