package importer_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfmark/shelfmark/modules/roster/importer"
)

const maxBytes = 1 << 20

func TestTokenize(t *testing.T) {
	t.Run("strips byte order mark", func(t *testing.T) {
		header, rows, errs := importer.Tokenize("\ufeffexternal_id,name\nS001,Alice\n", maxBytes)
		require.Empty(t, errs)
		assert.Equal(t, []string{"external_id", "name"}, header)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"S001", "Alice"}, rows[0])
	})

	t.Run("empty file", func(t *testing.T) {
		_, _, errs := importer.Tokenize("  \n\t ", maxBytes)
		require.Len(t, errs, 1)
		assert.Equal(t, importer.CodeCSVEmpty, errs[0].Code)
	})

	t.Run("oversize file", func(t *testing.T) {
		_, _, errs := importer.Tokenize(strings.Repeat("a", 32), 16)
		require.Len(t, errs, 1)
		assert.Equal(t, importer.CodeCSVTooLarge, errs[0].Code)
	})

	t.Run("unterminated quote", func(t *testing.T) {
		_, _, errs := importer.Tokenize("external_id,name\nS001,\"Ali\n", maxBytes)
		require.NotEmpty(t, errs)
		assert.Equal(t, importer.CodeCSVMalformed, errs[0].Code)
	})

	t.Run("ragged rows survive tokenizing", func(t *testing.T) {
		_, rows, errs := importer.Tokenize("external_id,name\nS001,Alice,extra\nS002\n", maxBytes)
		require.Empty(t, errs)
		require.Len(t, rows, 2)
		assert.Len(t, rows[0], 3)
		assert.Len(t, rows[1], 1)
	})
}

func TestResolveColumns(t *testing.T) {
	t.Run("english aliases", func(t *testing.T) {
		cols, errs := importer.ResolveColumns([]string{"Student ID", "Full Name", "Type", "Class", "State"})
		require.Empty(t, errs)
		assert.Equal(t, 0, cols.Index(importer.FieldExternalID))
		assert.Equal(t, 1, cols.Index(importer.FieldName))
		assert.Equal(t, 2, cols.Index(importer.FieldRole))
		assert.Equal(t, 3, cols.Index(importer.FieldOrgUnit))
		assert.Equal(t, 4, cols.Index(importer.FieldStatus))
	})

	t.Run("chinese aliases resolve identically", func(t *testing.T) {
		en, errs := importer.ResolveColumns([]string{"external_id", "name", "role", "org_unit", "status"})
		require.Empty(t, errs)
		zh, errs := importer.ResolveColumns([]string{"學號", "姓名", "身分", "班級", "狀態"})
		require.Empty(t, errs)
		assert.Equal(t, en, zh)
	})

	t.Run("full width header cells fold", func(t *testing.T) {
		cols, errs := importer.ResolveColumns([]string{"ｅｘｔｅｒｎａｌ＿ｉｄ", "ｎａｍｅ"})
		require.Empty(t, errs)
		assert.True(t, cols.Has(importer.FieldExternalID))
		assert.True(t, cols.Has(importer.FieldName))
	})

	t.Run("duplicate header reports both columns", func(t *testing.T) {
		_, errs := importer.ResolveColumns([]string{"external_id", "student id", "name"})
		require.Len(t, errs, 1)
		assert.Equal(t, importer.CodeCSVDuplicateHeader, errs[0].Code)
		assert.Contains(t, errs[0].Message, "1")
		assert.Contains(t, errs[0].Message, "2")
	})

	t.Run("missing required columns listed together", func(t *testing.T) {
		_, errs := importer.ResolveColumns([]string{"role", "class"})
		require.Len(t, errs, 1)
		assert.Equal(t, importer.CodeCSVMissingRequiredColumns, errs[0].Code)
		assert.Contains(t, errs[0].Message, "external_id")
		assert.Contains(t, errs[0].Message, "name")
	})

	t.Run("unknown columns are ignored", func(t *testing.T) {
		cols, errs := importer.ResolveColumns([]string{"external_id", "homeroom teacher", "name"})
		require.Empty(t, errs)
		assert.Equal(t, 0, cols.Index(importer.FieldExternalID))
		assert.Equal(t, 2, cols.Index(importer.FieldName))
		assert.Equal(t, 3, cols.Width)
	})
}
