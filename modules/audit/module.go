package audit

import (
	"embed"

	"github.com/shelfmark/shelfmark/modules/audit/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/audit/presentation/controllers"
	"github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/pkg/application"
)

//go:embed infrastructure/persistence/schema/audit-schema.sql
var migrationFiles embed.FS

func NewModule() application.Module {
	return &Module{}
}

type Module struct{}

func (m *Module) Register(app application.Application) error {
	app.Migrations().RegisterSchema(&migrationFiles)

	app.RegisterServices(
		services.NewAuditService(persistence.NewAuditRecordRepository()),
	)

	app.RegisterControllers(
		controllers.NewAuditAPIController(app),
	)

	return nil
}

func (m *Module) Name() string {
	return "audit"
}
