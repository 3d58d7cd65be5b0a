package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
	"github.com/shelfmark/shelfmark/modules/roster/importer"
	"github.com/shelfmark/shelfmark/modules/roster/services"
	"github.com/shelfmark/shelfmark/pkg/application"
	"github.com/shelfmark/shelfmark/pkg/configuration"
	"github.com/shelfmark/shelfmark/pkg/httpapi"
	"github.com/shelfmark/shelfmark/pkg/middleware"
)

type RosterAPIController struct {
	app       application.Application
	members   *services.MemberService
	importSvc *services.RosterImportService
	basePath  string
}

func NewRosterAPIController(app application.Application) application.Controller {
	return &RosterAPIController{
		app:       app,
		members:   app.Service(services.MemberService{}).(*services.MemberService),
		importSvc: app.Service(services.RosterImportService{}).(*services.RosterImportService),
		basePath:  "/roster/api",
	}
}

func (c *RosterAPIController) Key() string {
	return c.basePath
}

func (c *RosterAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(middleware.RequireTenant())

	router.HandleFunc("/members", c.ListMembers).Methods(http.MethodGet)
	router.HandleFunc("/members/{id}", c.GetMember).Methods(http.MethodGet)

	writeRouter := r.PathPrefix(c.basePath).Subrouter()
	writeRouter.Use(middleware.RequireTenant(), middleware.WithTransaction())
	writeRouter.HandleFunc("/members", c.CreateMember).Methods(http.MethodPost)
	writeRouter.HandleFunc("/members/{id}", c.UpdateMember).Methods(http.MethodPatch)
	writeRouter.HandleFunc("/members/{id}", c.DeleteMember).Methods(http.MethodDelete)

	// Import manages its own transaction: preview must not open one and
	// apply opens its own, so the write middleware stays off this route.
	router.HandleFunc("/import", c.Import).Methods(http.MethodPost)
}

func (c *RosterAPIController) ListMembers(w http.ResponseWriter, r *http.Request) {
	conf := configuration.Use()
	params := &member.FindParams{
		Limit:  conf.PageSize,
		Q:      strings.TrimSpace(r.URL.Query().Get("q")),
		Role:   member.Role(strings.TrimSpace(r.URL.Query().Get("role"))),
		Status: member.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
	}
	if params.Role != "" && !params.Role.Valid() {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "MEMBER_INVALID_ROLE", "invalid role filter")
		return
	}
	if params.Status != "" && !params.Status.Valid() {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "MEMBER_INVALID_STATUS", "invalid status filter")
		return
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

	members, total, err := c.members.GetPaginated(r.Context(), params)
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "MEMBER_INTERNAL", "internal error")
		return
	}

	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, memberPayload(m))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

func (c *RosterAPIController) GetMember(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "MEMBER_INVALID_ID", "invalid member id")
		return
	}
	m, err := c.members.GetByID(r.Context(), id)
	if errors.Is(err, member.ErrNotFound) {
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "MEMBER_NOT_FOUND", "member not found")
		return
	}
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "MEMBER_INTERNAL", "internal error")
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, memberPayload(m))
}

func (c *RosterAPIController) CreateMember(w http.ResponseWriter, r *http.Request) {
	var dto member.CreateDTO
	if err := httpapi.DecodeJSON(r, &dto); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "MEMBER_INVALID_BODY", "invalid request body")
		return
	}
	if fields, ok := dto.Ok(); !ok {
		_ = httpapi.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code":   "MEMBER_VALIDATION",
			"fields": fields,
		})
		return
	}

	created, err := c.members.Create(r.Context(), &dto)
	if errors.Is(err, member.ErrExternalIDTaken) {
		_ = httpapi.WriteError(w, r, http.StatusConflict, "MEMBER_EXTERNAL_ID_TAKEN", "external id already exists")
		return
	}
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "MEMBER_INTERNAL", "internal error")
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, memberPayload(created))
}

func (c *RosterAPIController) UpdateMember(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "MEMBER_INVALID_ID", "invalid member id")
		return
	}
	var dto member.UpdateDTO
	if err := httpapi.DecodeJSON(r, &dto); err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "MEMBER_INVALID_BODY", "invalid request body")
		return
	}
	if fields, ok := dto.Ok(); !ok {
		_ = httpapi.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code":   "MEMBER_VALIDATION",
			"fields": fields,
		})
		return
	}

	updated, err := c.members.Update(r.Context(), id, &dto)
	if errors.Is(err, member.ErrNotFound) {
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "MEMBER_NOT_FOUND", "member not found")
		return
	}
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "MEMBER_INTERNAL", "internal error")
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, memberPayload(updated))
}

func (c *RosterAPIController) DeleteMember(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "MEMBER_INVALID_ID", "invalid member id")
		return
	}
	err = c.members.Delete(r.Context(), id)
	if errors.Is(err, member.ErrNotFound) {
		_ = httpapi.WriteError(w, r, http.StatusNotFound, "MEMBER_NOT_FOUND", "member not found")
		return
	}
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "MEMBER_INTERNAL", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Import handles both preview and apply, selected by the mode query
// parameter. The file arrives either as a multipart "file" part or as
// the raw request body.
func (c *RosterAPIController) Import(w http.ResponseWriter, r *http.Request) {
	conf := configuration.Use()

	text, filename, ok := c.readImportBody(w, r, conf.RosterImport.MaxBytes)
	if !ok {
		return
	}

	opts, err := parseImportOptions(r)
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "IMPORT_INVALID_OPTIONS", err.Error())
		return
	}
	if opts.SourceFilename == "" {
		opts.SourceFilename = filename
	}

	mode := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("mode")))
	switch mode {
	case "", "preview":
		result, err := c.importSvc.Preview(r.Context(), text, opts)
		if err != nil {
			_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "IMPORT_INTERNAL", "internal error")
			return
		}
		_ = httpapi.WriteJSON(w, http.StatusOK, result)
	case "apply":
		result, err := c.importSvc.Apply(r.Context(), text, opts)
		var blocked *services.ImportBlockedError
		if errors.As(err, &blocked) {
			_ = httpapi.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"code":    "IMPORT_BLOCKED",
				"summary": blocked.Summary,
				"errors":  blocked.Errors,
			})
			return
		}
		if err != nil {
			_ = httpapi.WriteError(w, r, http.StatusInternalServerError, "IMPORT_INTERNAL", "internal error")
			return
		}
		_ = httpapi.WriteJSON(w, http.StatusOK, result)
	default:
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "IMPORT_INVALID_MODE", "mode must be preview or apply")
	}
}

func (c *RosterAPIController) readImportBody(w http.ResponseWriter, r *http.Request, maxBytes int) (string, string, bool) {
	var reader io.Reader = r.Body
	var filename string
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			_ = httpapi.WriteError(w, r, http.StatusBadRequest, "IMPORT_MISSING_FILE", "multipart request must carry a file part")
			return "", "", false
		}
		defer file.Close()
		reader = file
		filename = header.Filename
	}

	raw, err := io.ReadAll(io.LimitReader(reader, int64(maxBytes)+1))
	if err != nil {
		_ = httpapi.WriteError(w, r, http.StatusBadRequest, "IMPORT_UNREADABLE", "could not read upload")
		return "", "", false
	}
	if len(raw) > maxBytes {
		_ = httpapi.WriteError(w, r, http.StatusRequestEntityTooLarge, importer.CodeCSVTooLarge, "file exceeds the configured size ceiling")
		return "", "", false
	}

	if detected := mimetype.Detect(raw); !isTextual(detected) {
		_ = httpapi.WriteError(w, r, http.StatusUnsupportedMediaType, "IMPORT_NOT_TEXT",
			"expected a CSV text file, got "+detected.String())
		return "", "", false
	}

	return string(raw), filename, true
}

func isTextual(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func parseImportOptions(r *http.Request) (importer.Options, error) {
	opts := importer.Options{}
	q := r.URL.Query()

	if v := strings.TrimSpace(q.Get("default_role")); v != "" {
		role, ok := importer.ParseRole(v)
		if !ok {
			return opts, errors.New("unrecognized default_role")
		}
		opts.DefaultRole = role
	}
	if v := strings.TrimSpace(q.Get("sync_missing")); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New("sync_missing must be a boolean")
		}
		opts.SyncMissing = enabled
	}
	if v := strings.TrimSpace(q.Get("sync_roles")); v != "" {
		for _, raw := range strings.Split(v, ",") {
			role, ok := importer.ParseRole(raw)
			if !ok {
				return opts, errors.New("unrecognized role in sync_roles")
			}
			opts.SyncRoles = append(opts.SyncRoles, role)
		}
	}
	if opts.SyncMissing && len(opts.SyncRoles) == 0 {
		return opts, errors.New("sync_missing requires sync_roles")
	}
	opts.Note = strings.TrimSpace(q.Get("note"))
	opts.SourceFilename = strings.TrimSpace(q.Get("source_filename"))
	return opts, nil
}

func memberPayload(m member.Member) map[string]any {
	return map[string]any{
		"id":          m.ID,
		"external_id": m.ExternalID,
		"name":        m.Name,
		"role":        m.Role,
		"org_unit":    m.OrgUnit,
		"status":      m.Status,
		"created_at":  m.CreatedAt,
		"updated_at":  m.UpdatedAt,
	}
}
