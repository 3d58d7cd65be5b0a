package circulation

import (
	"embed"

	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	catalogpersistence "github.com/shelfmark/shelfmark/modules/catalog/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/circulation/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/circulation/presentation/controllers"
	"github.com/shelfmark/shelfmark/modules/circulation/services"
	rosterpersistence "github.com/shelfmark/shelfmark/modules/roster/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/pkg/application"
)

//go:embed infrastructure/persistence/schema/circulation-schema.sql
var migrationFiles embed.FS

func NewModule() application.Module {
	return &Module{}
}

type Module struct{}

func (m *Module) Register(app application.Application) error {
	app.Migrations().RegisterSchema(&migrationFiles)

	audit := app.Service(auditservices.AuditService{}).(*auditservices.AuditService)

	app.RegisterServices(
		services.NewCirculationService(
			persistence.NewLoanRepository(),
			catalogpersistence.NewCopyRepository(),
			rosterpersistence.NewMemberRepository(),
			audit,
			app.EventPublisher(),
		),
	)

	app.RegisterControllers(
		controllers.NewCirculationAPIController(app),
	)

	return nil
}

func (m *Module) Name() string {
	return "circulation"
}
