package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shelfmark/shelfmark/modules/audit/domain/entities/auditrecord"
	"github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/pkg/application"
	"github.com/shelfmark/shelfmark/pkg/configuration"
	"github.com/shelfmark/shelfmark/pkg/httpapi"
	"github.com/shelfmark/shelfmark/pkg/middleware"
)

type AuditAPIController struct {
	app      application.Application
	audit    *services.AuditService
	basePath string
}

func NewAuditAPIController(app application.Application) application.Controller {
	return &AuditAPIController{
		app:      app,
		audit:    app.Service(services.AuditService{}).(*services.AuditService),
		basePath: "/audit/api",
	}
}

func (c *AuditAPIController) Key() string {
	return c.basePath
}

func (c *AuditAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(middleware.RequireTenant())
	router.HandleFunc("/records", c.List).Methods(http.MethodGet)
}

func (c *AuditAPIController) List(w http.ResponseWriter, r *http.Request) {
	conf := configuration.Use()
	params := &auditrecord.FindParams{
		Limit:  conf.PageSize,
		Action: strings.TrimSpace(r.URL.Query().Get("action")),
		Entity: strings.TrimSpace(r.URL.Query().Get("entity")),
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
	if v := strings.TrimSpace(r.URL.Query().Get("actor_id")); v != "" {
		actorID, err := uuid.Parse(v)
		if err != nil {
			_ = httpapi.WriteError(w, r, http.StatusBadRequest, "AUDIT_INVALID_ACTOR", "invalid actor_id")
			return
		}
		params.ActorID = &actorID
	}
	if v := strings.TrimSpace(r.URL.Query().Get("from")); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			_ = httpapi.WriteError(w, r, http.StatusBadRequest, "AUDIT_INVALID_RANGE", "invalid from timestamp")
			return
		}
		params.From = &from
	}
	if v := strings.TrimSpace(r.URL.Query().Get("to")); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			_ = httpapi.WriteError(w, r, http.StatusBadRequest, "AUDIT_INVALID_RANGE", "invalid to timestamp")
			return
		}
		params.To = &to
	}

	records, total, err := c.audit.List(r.Context(), params)
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "AUDIT_INTERNAL", "internal error")
		return
	}

	items := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		items = append(items, map[string]any{
			"id":           rec.ID,
			"actor_id":     rec.ActorID,
			"action":       rec.Action,
			"entity":       rec.Entity,
			"entity_id":    rec.EntityID,
			"content_hash": rec.ContentHash,
			"options":      rec.Options,
			"counts":       rec.Counts,
			"created_at":   rec.CreatedAt,
		})
	}

	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}
