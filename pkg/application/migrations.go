package application

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/shelfmark/shelfmark/pkg/repo"
)

// SchemaManager collects the schema files each module embeds and applies
// them in registration order. Statements are expected to be idempotent
// (CREATE TABLE IF NOT EXISTS and friends).
type SchemaManager struct {
	pool    repo.Pool
	schemas []*embed.FS
}

func NewSchemaManager(pool repo.Pool) *SchemaManager {
	return &SchemaManager{pool: pool}
}

func (m *SchemaManager) RegisterSchema(fsys ...*embed.FS) {
	m.schemas = append(m.schemas, fsys...)
}

func (m *SchemaManager) Apply(ctx context.Context) error {
	for _, fsys := range m.schemas {
		files, err := listSQLFiles(fsys)
		if err != nil {
			return err
		}
		for _, file := range files {
			contents, err := fsys.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read schema %s: %w", file, err)
			}
			if _, err := m.pool.Exec(ctx, string(contents)); err != nil {
				return fmt.Errorf("apply schema %s: %w", file, err)
			}
		}
	}
	return nil
}

func listSQLFiles(fsys *embed.FS) ([]string, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
