package modules

import (
	"github.com/shelfmark/shelfmark/modules/audit"
	"github.com/shelfmark/shelfmark/modules/catalog"
	"github.com/shelfmark/shelfmark/modules/circulation"
	"github.com/shelfmark/shelfmark/modules/holds"
	"github.com/shelfmark/shelfmark/modules/inventory"
	"github.com/shelfmark/shelfmark/modules/roster"
	"github.com/shelfmark/shelfmark/pkg/application"
)

// BuiltInModules in registration order. Audit must come first: the
// other modules resolve its service during their own Register.
var BuiltInModules = []application.Module{
	audit.NewModule(),
	roster.NewModule(),
	catalog.NewModule(),
	circulation.NewModule(),
	holds.NewModule(),
	inventory.NewModule(),
}

func Load(app application.Application, mods ...application.Module) error {
	for _, module := range mods {
		if err := module.Register(app); err != nil {
			return err
		}
	}
	return nil
}
