package holds

import (
	"embed"

	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	catalogpersistence "github.com/shelfmark/shelfmark/modules/catalog/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/holds/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/holds/presentation/controllers"
	"github.com/shelfmark/shelfmark/modules/holds/services"
	rosterpersistence "github.com/shelfmark/shelfmark/modules/roster/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/pkg/application"
)

//go:embed infrastructure/persistence/schema/holds-schema.sql
var migrationFiles embed.FS

func NewModule() application.Module {
	return &Module{}
}

type Module struct{}

func (m *Module) Register(app application.Application) error {
	app.Migrations().RegisterSchema(&migrationFiles)

	audit := app.Service(auditservices.AuditService{}).(*auditservices.AuditService)

	app.RegisterServices(
		services.NewHoldService(
			persistence.NewHoldRepository(),
			catalogpersistence.NewBibRepository(),
			catalogpersistence.NewCopyRepository(),
			rosterpersistence.NewMemberRepository(),
			audit,
			app.EventPublisher(),
		),
	)

	app.RegisterControllers(
		controllers.NewHoldsAPIController(app),
	)

	return nil
}

func (m *Module) Name() string {
	return "holds"
}
