package inventory

import (
	"embed"

	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	catalogpersistence "github.com/shelfmark/shelfmark/modules/catalog/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/inventory/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/inventory/presentation/controllers"
	"github.com/shelfmark/shelfmark/modules/inventory/services"
	"github.com/shelfmark/shelfmark/pkg/application"
)

//go:embed infrastructure/persistence/schema/inventory-schema.sql
var migrationFiles embed.FS

func NewModule() application.Module {
	return &Module{}
}

type Module struct{}

func (m *Module) Register(app application.Application) error {
	app.Migrations().RegisterSchema(&migrationFiles)

	audit := app.Service(auditservices.AuditService{}).(*auditservices.AuditService)

	app.RegisterServices(
		services.NewInventoryService(
			persistence.NewSessionRepository(),
			catalogpersistence.NewCopyRepository(),
			audit,
			app.EventPublisher(),
		),
	)

	app.RegisterControllers(
		controllers.NewInventoryAPIController(app),
	)

	return nil
}

func (m *Module) Name() string {
	return "inventory"
}
