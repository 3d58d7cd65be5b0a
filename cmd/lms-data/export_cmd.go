package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/modules/catalog/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/catalog/services"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/configuration"
)

func newExportCmd() *cobra.Command {
	var tenant, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the tenant's holdings as an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), tenant, output)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant UUID (required)")
	cmd.Flags().StringVar(&output, "output", "holdings.xlsx", "Output file path")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runExport(ctx context.Context, tenant, output string) error {
	tenantID, err := uuid.Parse(strings.TrimSpace(tenant))
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("invalid --tenant: %w", err))
	}

	conf := configuration.Use()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("connect: %w", err))
	}
	defer pool.Close()

	ctx = composables.WithPool(ctx, pool)
	ctx = composables.WithTenantID(ctx, tenantID)

	data, err := services.NewExportService(persistence.NewBibRepository()).ExportHoldings(ctx)
	if err != nil {
		return withCode(exitDB, err)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return withCode(exitUsage, fmt.Errorf("write %s: %w", output, err))
	}
	fmt.Printf("wrote %s (%d bytes)\n", output, len(data))
	return nil
}
