package roster

import (
	"embed"

	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/modules/roster/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/roster/presentation/controllers"
	"github.com/shelfmark/shelfmark/modules/roster/services"
	"github.com/shelfmark/shelfmark/pkg/application"
	"github.com/shelfmark/shelfmark/pkg/configuration"
)

//go:embed infrastructure/persistence/schema/roster-schema.sql
var migrationFiles embed.FS

func NewModule() application.Module {
	return &Module{}
}

type Module struct{}

// Register wires the roster services. The audit module must be
// registered first: the import pipeline records every apply through its
// service.
func (m *Module) Register(app application.Application) error {
	app.Migrations().RegisterSchema(&migrationFiles)

	memberRepo := persistence.NewMemberRepository()
	audit := app.Service(auditservices.AuditService{}).(*auditservices.AuditService)

	app.RegisterServices(
		services.NewMemberService(memberRepo, audit, app.EventPublisher()),
		services.NewRosterImportService(memberRepo, audit, app.EventPublisher(), configuration.Use().RosterImport),
	)

	app.RegisterControllers(
		controllers.NewRosterAPIController(app),
	)

	return nil
}

func (m *Module) Name() string {
	return "roster"
}
