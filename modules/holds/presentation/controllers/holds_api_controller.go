package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/bib"
	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/copy"
	"github.com/shelfmark/shelfmark/modules/holds/domain/aggregates/hold"
	"github.com/shelfmark/shelfmark/modules/holds/services"
	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
	"github.com/shelfmark/shelfmark/pkg/application"
	"github.com/shelfmark/shelfmark/pkg/configuration"
	"github.com/shelfmark/shelfmark/pkg/httpapi"
	"github.com/shelfmark/shelfmark/pkg/middleware"
)

type HoldsAPIController struct {
	app      application.Application
	holds    *services.HoldService
	basePath string
}

func NewHoldsAPIController(app application.Application) application.Controller {
	return &HoldsAPIController{
		app:      app,
		holds:    app.Service(services.HoldService{}).(*services.HoldService),
		basePath: "/holds/api",
	}
}

func (c *HoldsAPIController) Key() string {
	return c.basePath
}

func (c *HoldsAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(middleware.RequireTenant())
	router.HandleFunc("/holds", c.ListHolds).Methods(http.MethodGet)
	// Transitions lock copy rows inside their own transactions, so they
	// skip the write middleware.
	router.HandleFunc("/holds", c.Place).Methods(http.MethodPost)
	router.HandleFunc("/holds/{id}/ready", c.Ready).Methods(http.MethodPost)
	router.HandleFunc("/holds/{id}/cancel", c.Cancel).Methods(http.MethodPost)
	router.HandleFunc("/holds/{id}/fulfill", c.Fulfill).Methods(http.MethodPost)
	router.HandleFunc("/expire-ready", c.ExpireReady).Methods(http.MethodPost)
}

func (c *HoldsAPIController) ListHolds(w http.ResponseWriter, r *http.Request) {
	conf := configuration.Use()
	params := &hold.FindParams{Limit: conf.PageSize}

	if v := strings.TrimSpace(r.URL.Query().Get("member_id")); v != "" {
		memberID, err := uuid.Parse(v)
		if err != nil {
			_ = httpapi.WriteError(w, r, http.StatusBadRequest, "HOLD_INVALID_MEMBER", "invalid member_id")
			return
		}
		params.MemberID = &memberID
	}
	if v := strings.TrimSpace(r.URL.Query().Get("bib_id")); v != "" {
		bibID, err := uuid.Parse(v)
		if err != nil {
			_ = httpapi.WriteError(w, r, http.StatusBadRequest, "HOLD_INVALID_BIB", "invalid bib_id")
			return
		}
		params.BibID = &bibID
	}
	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		params.Status = hold.Status(v)
		if !params.Status.Valid() {
			_ = httpapi.WriteError(w, r, http.StatusBadRequest, "HOLD_INVALID_STATUS", "invalid status filter")
			return
		}
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

	holds, total, err := c.holds.GetPaginated(r.Context(), params)
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "HOLD_INTERNAL", "internal error")
		return
	}
	items := make([]map[string]any, 0, len(holds))
	for _, h := range holds {
		items = append(items, holdPayload(h))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

type placeHoldRequest struct {
	BibID    uuid.UUID `json:"bib_id"`
	MemberID uuid.UUID `json:"member_id"`
}

func (c *HoldsAPIController) Place(w http.ResponseWriter, r *http.Request) {
	var req placeHoldRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "HOLD_INVALID_BODY", "invalid request body")
		return
	}
	if req.BibID == uuid.Nil || req.MemberID == uuid.Nil {
		_ = httpapi.WriteError(w, r, http.StatusUnprocessableEntity, "HOLD_MISSING_FIELDS", "bib_id and member_id are required")
		return
	}

	created, err := c.holds.Place(r.Context(), req.BibID, req.MemberID)
	switch {
	case errors.Is(err, member.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "HOLD_MEMBER_NOT_FOUND", "member not found")
	case errors.Is(err, bib.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "HOLD_BIB_NOT_FOUND", "bib not found")
	case errors.Is(err, hold.ErrMemberInactive):
		_ = httpapi.WriteError(w, r, http.StatusConflict, "HOLD_MEMBER_INACTIVE", "member is not active")
	case errors.Is(err, hold.ErrActiveHoldExists):
		_ = httpapi.WriteError(w, r, http.StatusConflict, "HOLD_ALREADY_ACTIVE", "member already has an active hold on this bib")
	case err != nil:
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "HOLD_INTERNAL", "internal error")
	default:
		_ = httpapi.WriteJSON(w, http.StatusCreated, holdPayload(created))
	}
}

type readyHoldRequest struct {
	CopyID uuid.UUID `json:"copy_id"`
}

func (c *HoldsAPIController) Ready(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "HOLD_INVALID_ID", "invalid hold id")
		return
	}
	var req readyHoldRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "HOLD_INVALID_BODY", "invalid request body")
		return
	}
	if req.CopyID == uuid.Nil {
		_ = httpapi.WriteError(w, r, http.StatusUnprocessableEntity, "HOLD_MISSING_FIELDS", "copy_id is required")
		return
	}

	ready, err := c.holds.Ready(r.Context(), id, req.CopyID)
	switch {
	case errors.Is(err, hold.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "HOLD_NOT_FOUND", "hold not found")
	case errors.Is(err, copy.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "HOLD_COPY_NOT_FOUND", "copy not found")
	case errors.Is(err, hold.ErrNotQueued):
		_ = httpapi.WriteError(w, r, http.StatusConflict, "HOLD_NOT_QUEUED", "hold is not queued")
	case errors.Is(err, hold.ErrCopyUnavailable):
		_ = httpapi.WriteError(w, r, http.StatusConflict, "HOLD_COPY_UNAVAILABLE", "copy is not available")
	case err != nil:
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "HOLD_INTERNAL", "internal error")
	default:
		_ = httpapi.WriteJSON(w, http.StatusOK, holdPayload(ready))
	}
}

func (c *HoldsAPIController) Cancel(w http.ResponseWriter, r *http.Request) {
	c.transition(w, r, c.holds.Cancel, hold.ErrNotActive, "HOLD_NOT_ACTIVE", "hold is not active")
}

func (c *HoldsAPIController) Fulfill(w http.ResponseWriter, r *http.Request) {
	c.transition(w, r, c.holds.Fulfill, hold.ErrNotReady, "HOLD_NOT_READY", "hold is not ready")
}

func (c *HoldsAPIController) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id uuid.UUID) (hold.Hold, error),
	guardErr error,
	guardCode, guardMsg string,
) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "HOLD_INVALID_ID", "invalid hold id")
		return
	}

	h, err := op(r.Context(), id)
	switch {
	case errors.Is(err, hold.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "HOLD_NOT_FOUND", "hold not found")
	case errors.Is(err, guardErr):
		_ = httpapi.WriteError(w, r, http.StatusConflict, guardCode, guardMsg)
	case err != nil:
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "HOLD_INTERNAL", "internal error")
	default:
		_ = httpapi.WriteJSON(w, http.StatusOK, holdPayload(h))
	}
}

func (c *HoldsAPIController) ExpireReady(w http.ResponseWriter, r *http.Request) {
	expired, err := c.holds.ExpireReady(r.Context())
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "HOLD_INTERNAL", "internal error")
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{"expired": expired})
}

func holdPayload(h hold.Hold) map[string]any {
	return map[string]any{
		"id":               h.ID,
		"bib_id":           h.BibID,
		"member_id":        h.MemberID,
		"status":           h.Status,
		"assigned_copy_id": h.AssignedCopyID,
		"placed_at":        h.PlacedAt,
		"ready_at":         h.ReadyAt,
		"ready_until":      h.ReadyUntil,
		"cancelled_at":     h.CancelledAt,
		"fulfilled_at":     h.FulfilledAt,
	}
}
