package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	auditpersistence "github.com/shelfmark/shelfmark/modules/audit/infrastructure/persistence"
	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/modules/roster/importer"
	"github.com/shelfmark/shelfmark/modules/roster/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/roster/services"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/configuration"
	"github.com/shelfmark/shelfmark/pkg/eventbus"
)

type importFlags struct {
	tenant      string
	actor       string
	file        string
	apply       bool
	defaultRole string
	syncMissing bool
	syncRoles   string
	note        string
}

func newImportCmd() *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Preview or apply a roster CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.tenant, "tenant", "", "Tenant UUID (required)")
	cmd.Flags().StringVar(&flags.actor, "actor", "", "Actor UUID recorded in the audit trail (required with --apply)")
	cmd.Flags().StringVar(&flags.file, "file", "", "Path to the roster CSV file (required)")
	cmd.Flags().BoolVar(&flags.apply, "apply", false, "Apply changes to the database (default is preview)")
	cmd.Flags().StringVar(&flags.defaultRole, "default-role", "", "Role used when the file has no role column")
	cmd.Flags().BoolVar(&flags.syncMissing, "sync-missing", false, "Deactivate members of --sync-roles absent from the file")
	cmd.Flags().StringVar(&flags.syncRoles, "sync-roles", "", "Comma-separated roles for --sync-missing")
	cmd.Flags().StringVar(&flags.note, "note", "", "Free-form note stored in the audit record")

	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runImport(ctx context.Context, flags importFlags) error {
	tenantID, err := uuid.Parse(strings.TrimSpace(flags.tenant))
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("invalid --tenant: %w", err))
	}

	actorID := uuid.Nil
	if strings.TrimSpace(flags.actor) != "" {
		actorID, err = uuid.Parse(strings.TrimSpace(flags.actor))
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid --actor: %w", err))
		}
	}
	if flags.apply && actorID == uuid.Nil {
		return withCode(exitUsage, errors.New("--apply requires --actor"))
	}

	opts, err := parseOptions(flags)
	if err != nil {
		return withCode(exitUsage, err)
	}

	raw, err := os.ReadFile(flags.file)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("read %s: %w", flags.file, err))
	}

	conf := configuration.Use()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("connect: %w", err))
	}
	defer pool.Close()

	ctx = composables.WithPool(ctx, pool)
	ctx = composables.WithTenantID(ctx, tenantID)
	ctx = composables.WithActorID(ctx, actorID)

	svc := services.NewRosterImportService(
		persistence.NewMemberRepository(),
		auditservices.NewAuditService(auditpersistence.NewAuditRecordRepository()),
		eventbus.NewEventPublisher(conf.Logger()),
		conf.RosterImport,
	)

	var result *services.ImportResult
	if flags.apply {
		result, err = svc.Apply(ctx, string(raw), opts)
	} else {
		result, err = svc.Preview(ctx, string(raw), opts)
	}

	var blocked *services.ImportBlockedError
	if errors.As(err, &blocked) {
		printJSON(map[string]any{
			"blocked": true,
			"summary": blocked.Summary,
			"errors":  blocked.Errors,
		})
		return withCode(exitValidation, errors.New("import blocked by validation errors"))
	}
	if err != nil {
		return withCode(exitDB, err)
	}

	printJSON(result)
	if !flags.apply && importer.HasBlocking(result.Errors) {
		return withCode(exitValidation, errors.New("file has validation errors"))
	}
	return nil
}

func parseOptions(flags importFlags) (importer.Options, error) {
	opts := importer.Options{SyncMissing: flags.syncMissing}

	if v := strings.TrimSpace(flags.defaultRole); v != "" {
		role, ok := importer.ParseRole(v)
		if !ok {
			return opts, fmt.Errorf("unrecognized --default-role %q", v)
		}
		opts.DefaultRole = role
	}
	if v := strings.TrimSpace(flags.syncRoles); v != "" {
		for _, raw := range strings.Split(v, ",") {
			role, ok := importer.ParseRole(raw)
			if !ok {
				return opts, fmt.Errorf("unrecognized role %q in --sync-roles", raw)
			}
			opts.SyncRoles = append(opts.SyncRoles, role)
		}
	}
	if opts.SyncMissing && len(opts.SyncRoles) == 0 {
		return opts, errors.New("--sync-missing requires --sync-roles")
	}
	opts.Note = strings.TrimSpace(flags.note)
	opts.SourceFilename = flags.file
	return opts, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
