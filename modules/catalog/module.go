package catalog

import (
	"embed"

	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/modules/catalog/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/catalog/presentation/controllers"
	"github.com/shelfmark/shelfmark/modules/catalog/services"
	"github.com/shelfmark/shelfmark/pkg/application"
)

//go:embed infrastructure/persistence/schema/catalog-schema.sql
var migrationFiles embed.FS

func NewModule() application.Module {
	return &Module{}
}

type Module struct{}

func (m *Module) Register(app application.Application) error {
	app.Migrations().RegisterSchema(&migrationFiles)

	bibRepo := persistence.NewBibRepository()
	copyRepo := persistence.NewCopyRepository()
	audit := app.Service(auditservices.AuditService{}).(*auditservices.AuditService)

	app.RegisterServices(
		services.NewCatalogService(bibRepo, copyRepo, audit, app.EventPublisher()),
		services.NewExportService(bibRepo),
	)

	app.RegisterControllers(
		controllers.NewCatalogAPIController(app),
	)

	return nil
}

func (m *Module) Name() string {
	return "catalog"
}
