package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/bib"
	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/copy"
	"github.com/shelfmark/shelfmark/modules/catalog/services"
	"github.com/shelfmark/shelfmark/pkg/application"
	"github.com/shelfmark/shelfmark/pkg/configuration"
	"github.com/shelfmark/shelfmark/pkg/httpapi"
	"github.com/shelfmark/shelfmark/pkg/middleware"
)

type CatalogAPIController struct {
	app      application.Application
	catalog  *services.CatalogService
	export   *services.ExportService
	basePath string
}

func NewCatalogAPIController(app application.Application) application.Controller {
	return &CatalogAPIController{
		app:      app,
		catalog:  app.Service(services.CatalogService{}).(*services.CatalogService),
		export:   app.Service(services.ExportService{}).(*services.ExportService),
		basePath: "/catalog/api",
	}
}

func (c *CatalogAPIController) Key() string {
	return c.basePath
}

func (c *CatalogAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(middleware.RequireTenant())
	router.HandleFunc("/bibs", c.ListBibs).Methods(http.MethodGet)
	router.HandleFunc("/bibs/{id}", c.GetBib).Methods(http.MethodGet)
	router.HandleFunc("/bibs/{id}/copies", c.ListCopies).Methods(http.MethodGet)
	router.HandleFunc("/export", c.Export).Methods(http.MethodGet)

	writeRouter := r.PathPrefix(c.basePath).Subrouter()
	writeRouter.Use(middleware.RequireTenant(), middleware.WithTransaction())
	writeRouter.HandleFunc("/bibs", c.CreateBib).Methods(http.MethodPost)
	writeRouter.HandleFunc("/bibs/{id}", c.UpdateBib).Methods(http.MethodPatch)
	writeRouter.HandleFunc("/bibs/{id}", c.DeleteBib).Methods(http.MethodDelete)
	writeRouter.HandleFunc("/bibs/{id}/copies", c.AddCopy).Methods(http.MethodPost)
	writeRouter.HandleFunc("/copies/{id}", c.UpdateCopy).Methods(http.MethodPatch)
	writeRouter.HandleFunc("/copies/{id}", c.DeleteCopy).Methods(http.MethodDelete)
}

func (c *CatalogAPIController) ListBibs(w http.ResponseWriter, r *http.Request) {
	conf := configuration.Use()
	params := &bib.FindParams{
		Limit: conf.PageSize,
		Q:     strings.TrimSpace(r.URL.Query().Get("q")),
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

	bibs, total, err := c.catalog.GetPaginated(r.Context(), params)
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "CATALOG_INTERNAL", "internal error")
		return
	}
	items := make([]map[string]any, 0, len(bibs))
	for _, b := range bibs {
		items = append(items, bibPayload(b))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (c *CatalogAPIController) GetBib(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "CATALOG_INVALID_ID", "invalid bib id")
		return
	}
	b, err := c.catalog.GetByID(r.Context(), id)
	if errors.Is(err, bib.ErrNotFound) {
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "CATALOG_NOT_FOUND", "bib not found")
		return
	}
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "CATALOG_INTERNAL", "internal error")
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, bibPayload(b))
}

func (c *CatalogAPIController) CreateBib(w http.ResponseWriter, r *http.Request) {
	var dto bib.CreateDTO
	if err := httpapi.DecodeJSON(r, &dto); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "CATALOG_INVALID_BODY", "invalid request body")
		return
	}
	if fields, ok := dto.Ok(); !ok {
		_ = httpapi.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code":   "CATALOG_VALIDATION",
			"fields": fields,
		})
		return
	}
	created, err := c.catalog.Create(r.Context(), &dto)
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "CATALOG_INTERNAL", "internal error")
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, bibPayload(created))
}

func (c *CatalogAPIController) UpdateBib(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "CATALOG_INVALID_ID", "invalid bib id")
		return
	}
	var dto bib.UpdateDTO
	if err := httpapi.DecodeJSON(r, &dto); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "CATALOG_INVALID_BODY", "invalid request body")
		return
	}
	if fields, ok := dto.Ok(); !ok {
		_ = httpapi.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code":   "CATALOG_VALIDATION",
			"fields": fields,
		})
		return
	}
	updated, err := c.catalog.Update(r.Context(), id, &dto)
	if errors.Is(err, bib.ErrNotFound) {
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "CATALOG_NOT_FOUND", "bib not found")
		return
	}
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "CATALOG_INTERNAL", "internal error")
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, bibPayload(updated))
}

func (c *CatalogAPIController) DeleteBib(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "CATALOG_INVALID_ID", "invalid bib id")
		return
	}
	err = c.catalog.Delete(r.Context(), id)
	if errors.Is(err, bib.ErrNotFound) {
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "CATALOG_NOT_FOUND", "bib not found")
		return
	}
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "CATALOG_INTERNAL", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CatalogAPIController) ListCopies(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "CATALOG_INVALID_ID", "invalid bib id")
		return
	}
	copies, err := c.catalog.GetCopies(r.Context(), id)
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "CATALOG_INTERNAL", "internal error")
		return
	}
	items := make([]map[string]any, 0, len(copies))
	for _, cp := range copies {
		items = append(items, copyPayload(cp))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type addCopyRequest struct {
	Barcode string `json:"barcode"`
}

func (c *CatalogAPIController) AddCopy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "CATALOG_INVALID_ID", "invalid bib id")
		return
	}
	var req addCopyRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "CATALOG_INVALID_BODY", "invalid request body")
		return
	}
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Barcode == "" || len(req.Barcode) > 64 {
		_ = httpapi.WriteError(w, r, http.StatusUnprocessableEntity, "CATALOG_INVALID_BARCODE", "barcode is required and at most 64 characters")
		return
	}

	created, err := c.catalog.AddCopy(r.Context(), id, req.Barcode)
	if errors.Is(err, bib.ErrNotFound) {
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "CATALOG_NOT_FOUND", "bib not found")
		return
	}
	if errors.Is(err, copy.ErrBarcodeTaken) {
		_ = httpapi.WriteError(w, r, http.StatusConflict, "CATALOG_BARCODE_TAKEN", "barcode already exists")
		return
	}
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "CATALOG_INTERNAL", "internal error")
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, copyPayload(created))
}

type updateCopyRequest struct {
	Status string `json:"status"`
}

func (c *CatalogAPIController) UpdateCopy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "CATALOG_INVALID_ID", "invalid copy id")
		return
	}
	var req updateCopyRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "CATALOG_INVALID_BODY", "invalid request body")
		return
	}
	status := copy.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		_ = httpapi.WriteError(w, r, http.StatusUnprocessableEntity, "CATALOG_INVALID_STATUS", "unknown copy status")
		return
	}

	err = c.catalog.UpdateCopyStatus(r.Context(), id, status)
	if errors.Is(err, copy.ErrNotFound) {
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "CATALOG_NOT_FOUND", "copy not found")
		return
	}
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "CATALOG_INTERNAL", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CatalogAPIController) DeleteCopy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "CATALOG_INVALID_ID", "invalid copy id")
		return
	}
	err = c.catalog.DeleteCopy(r.Context(), id)
	if errors.Is(err, copy.ErrNotFound) {
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "CATALOG_NOT_FOUND", "copy not found")
		return
	}
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "CATALOG_INTERNAL", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CatalogAPIController) Export(w http.ResponseWriter, r *http.Request) {
	data, err := c.export.ExportHoldings(r.Context())
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "CATALOG_INTERNAL", "internal error")
		return
	}
	filename := "holdings-" + time.Now().Format("2006-01-02") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func bibPayload(b bib.Bib) map[string]any {
	return map[string]any{
		"id":         b.ID,
		"title":      b.Title,
		"author":     b.Author,
		"isbn":       b.ISBN,
		"publisher":  b.Publisher,
		"year":       b.Year,
		"created_at": b.CreatedAt,
		"updated_at": b.UpdatedAt,
	}
}

func copyPayload(cp copy.Copy) map[string]any {
	return map[string]any{
		"id":         cp.ID,
		"bib_id":     cp.BibID,
		"barcode":    cp.Barcode,
		"status":     cp.Status,
		"created_at": cp.CreatedAt,
		"updated_at": cp.UpdatedAt,
	}
}
