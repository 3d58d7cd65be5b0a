package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/copy"
	"github.com/shelfmark/shelfmark/modules/inventory/domain/aggregates/session"
	"github.com/shelfmark/shelfmark/modules/inventory/services"
	"github.com/shelfmark/shelfmark/pkg/application"
	"github.com/shelfmark/shelfmark/pkg/configuration"
	"github.com/shelfmark/shelfmark/pkg/httpapi"
	"github.com/shelfmark/shelfmark/pkg/middleware"
)

type InventoryAPIController struct {
	app       application.Application
	inventory *services.InventoryService
	basePath  string
}

func NewInventoryAPIController(app application.Application) application.Controller {
	return &InventoryAPIController{
		app:       app,
		inventory: app.Service(services.InventoryService{}).(*services.InventoryService),
		basePath:  "/inventory/api",
	}
}

func (c *InventoryAPIController) Key() string {
	return c.basePath
}

func (c *InventoryAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(middleware.RequireTenant())
	router.HandleFunc("/sessions", c.ListSessions).Methods(http.MethodGet)
	// Writes run in their own transactions, so they skip the write
	// middleware.
	router.HandleFunc("/sessions", c.StartSession).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/scans", c.RecordScan).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/close", c.CloseSession).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/report", c.Report).Methods(http.MethodGet)
}

func (c *InventoryAPIController) ListSessions(w http.ResponseWriter, r *http.Request) {
	conf := configuration.Use()
	params := &session.FindParams{Limit: conf.PageSize}

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

	sessions, total, err := c.inventory.GetSessions(r.Context(), params)
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "INVENTORY_INTERNAL", "internal error")
		return
	}
	items := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionPayload(s))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

type startSessionRequest struct {
	Note string `json:"note"`
}

func (c *InventoryAPIController) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "INVENTORY_INVALID_BODY", "invalid request body")
		return
	}

	created, err := c.inventory.StartSession(r.Context(), strings.TrimSpace(req.Note))
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "INVENTORY_INTERNAL", "internal error")
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, sessionPayload(created))
}

type recordScanRequest struct {
	Barcode string `json:"barcode"`
}

func (c *InventoryAPIController) RecordScan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "INVENTORY_INVALID_ID", "invalid session id")
		return
	}
	var req recordScanRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "INVENTORY_INVALID_BODY", "invalid request body")
		return
	}
	barcode := strings.TrimSpace(req.Barcode)
	if barcode == "" {
		_ = httpapi.WriteError(w, r, http.StatusUnprocessableEntity, "INVENTORY_MISSING_FIELDS", "barcode is required")
		return
	}

	scan, err := c.inventory.RecordScan(r.Context(), id, barcode)
	switch {
	case errors.Is(err, session.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "INVENTORY_SESSION_NOT_FOUND", "session not found")
	case errors.Is(err, session.ErrSessionClosed):
		_ = httpapi.WriteError(w, r, http.StatusConflict, "INVENTORY_SESSION_CLOSED", "session is closed")
	case errors.Is(err, copy.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "INVENTORY_UNKNOWN_BARCODE", "no copy with this barcode")
	case errors.Is(err, session.ErrAlreadyScanned):
		_ = httpapi.WriteError(w, r, http.StatusConflict, "INVENTORY_ALREADY_SCANNED", "copy already scanned in this session")
	case err != nil:
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "INVENTORY_INTERNAL", "internal error")
	default:
		_ = httpapi.WriteJSON(w, http.StatusCreated, map[string]any{
			"id":         scan.ID,
			"session_id": scan.SessionID,
			"copy_id":    scan.CopyID,
			"scanned_at": scan.ScannedAt,
		})
	}
}

func (c *InventoryAPIController) CloseSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "INVENTORY_INVALID_ID", "invalid session id")
		return
	}

	closed, err := c.inventory.CloseSession(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "INVENTORY_SESSION_NOT_FOUND", "session not found")
	case errors.Is(err, session.ErrSessionClosed):
		_ = httpapi.WriteError(w, r, http.StatusConflict, "INVENTORY_SESSION_CLOSED", "session is already closed")
	case err != nil:
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "INVENTORY_INTERNAL", "internal error")
	default:
		_ = httpapi.WriteJSON(w, http.StatusOK, sessionPayload(closed))
	}
}

func (c *InventoryAPIController) Report(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "INVENTORY_INVALID_ID", "invalid session id")
		return
	}

	report, err := c.inventory.Report(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "INVENTORY_SESSION_NOT_FOUND", "session not found")
	case err != nil:
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "INVENTORY_INTERNAL", "internal error")
	default:
		_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{
			"session":    sessionPayload(report.Session),
			"scanned":    report.Scanned,
			"missing":    copyPayloads(report.Missing),
			"unexpected": copyPayloads(report.Unexpected),
		})
	}
}

func sessionPayload(s session.Session) map[string]any {
	return map[string]any{
		"id":         s.ID,
		"note":       s.Note,
		"started_at": s.StartedAt,
		"closed_at":  s.ClosedAt,
		"open":       s.Open(),
	}
}

func copyPayloads(copies []copy.Copy) []map[string]any {
	items := make([]map[string]any, 0, len(copies))
	for _, c := range copies {
		items = append(items, map[string]any{
			"id":      c.ID,
			"bib_id":  c.BibID,
			"barcode": c.Barcode,
			"status":  c.Status,
		})
	}
	return items
}
