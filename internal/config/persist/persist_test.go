package persist

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/strata/internal/config/layer"
)

func fixedClock() func() time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func sampleDocument() Document {
	doc := NewDocument("1.0.0", map[layer.Scope]map[string]any{
		layer.ScopeGlobal: {"ui": map[string]any{"theme": "light", "font_size": float64(12)}},
		layer.ScopeUser:   {"ui": map[string]any{"theme": "dark"}},
	})
	doc.Profiles = []ProfileRecord{{
		ID:          "p1",
		Name:        "work",
		Description: "work setup",
		Metadata:    map[string]string{"owner": "me"},
		Overrides:   map[string]any{"ui": map[string]any{"theme": "dark"}},
		CreatedAt:   "2024-03-01T12:00:00Z",
	}}
	doc.ActiveProfile = "p1"
	return doc
}

func TestLayer_WriteRead(t *testing.T) {
	for _, ext := range []string{".json", ".toml", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config"+ext)
			l := New(WithClock(fixedClock()))
			doc := sampleDocument()

			require.NoError(t, l.Write(context.Background(), path, doc))

			got, err := l.Read(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, "1.0.0", got.Version)
			assert.Equal(t, "2024-03-01T12:00:00Z", got.SavedAt)
			assert.Equal(t, doc.Scopes, got.Scopes)
			assert.Equal(t, doc.Profiles, got.Profiles)
			assert.Equal(t, "p1", got.ActiveProfile)

			scopes, err := got.ScopeData()
			require.NoError(t, err)
			assert.Equal(t, "dark", scopes[layer.ScopeUser]["ui"].(map[string]any)["theme"])
		})
	}
}

func TestLayer_ReadMissing(t *testing.T) {
	l := New()
	_, err := l.Read(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "read", perr.Op)
}

func TestLayer_ReadInvalid(t *testing.T) {
	dir := t.TempDir()
	l := New()

	tests := map[string]string{
		"broken.json":    `{"scopes": `,
		"noscopes.json":  `{"version": "1.0.0"}`,
		"badscope.json":  `{"version": "1", "scopes": {"galaxy": {}}}`,
		"badkey.json":    `{"version": "1", "scopes": {"user": {"a b": 1}}}`,
		"noscopes.yaml":  "version: 1.0.0\n",
		"badformat.conf": "x",
	}
	for name, content := range tests {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		doc, err := l.Read(context.Background(), path)
		if err == nil {
			_, err = doc.ScopeData()
		}
		assert.Error(t, err, name)
	}
}

func TestLayer_WriteKeepsOldFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	l := New()
	doc := sampleDocument()
	doc.Scopes["user"]["bad"] = func() {}

	err := l.Write(context.Background(), path, doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestLayer_CancelledWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().Write(ctx, path, sampleDocument())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(path)
	assert.ErrorIs(t, statErr, fs.ErrNotExist)
}

func TestLayer_Export(t *testing.T) {
	dir := t.TempDir()
	l := New(WithClock(fixedClock()))

	jsonPath := filepath.Join(dir, "export.json")
	require.NoError(t, l.Export(context.Background(), jsonPath, sampleDocument()))

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, ExportFormat, gjson.GetBytes(data, "format").String())
	assert.Equal(t, "2024-03-01T12:00:00Z", gjson.GetBytes(data, "saved_at").String())
	assert.Equal(t, "dark", gjson.GetBytes(data, "scopes.user.ui.theme").String())

	yamlPath := filepath.Join(dir, "export.yaml")
	require.NoError(t, l.Export(context.Background(), yamlPath, sampleDocument()))
	doc, err := l.Read(context.Background(), yamlPath)
	require.NoError(t, err)
	assert.Equal(t, ExportFormat, doc.Format)
}

func TestLayer_Backups(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(
		WithBackupDir(filepath.Join(dir, "backups")),
		WithClock(func() time.Time {
			now = now.Add(time.Minute)
			return now
		}),
	)

	list, err := l.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, list)

	first, err := l.Backup(context.Background(), sampleDocument())
	require.NoError(t, err)
	doc2 := sampleDocument()
	doc2.Version = "2.0.0"
	second, err := l.Backup(context.Background(), doc2)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	list, err = l.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, "2.0.0", list[1].Version)
	assert.True(t, list[0].Created.Before(list[1].Created))

	got, err := l.ReadBackup(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", got.Version)

	_, err = l.ReadBackup(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrBackupNotFound)
	_, err = l.ReadBackup(context.Background(), "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.ErrorIs(t, err, ErrBackupNotFound)

	removed, err := l.PruneBackups(1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	list, err = l.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)

	require.NoError(t, l.RemoveBackup(second.ID))
	assert.ErrorIs(t, l.RemoveBackup(second.ID), ErrBackupNotFound)
}

func TestLayer_BackupWithoutDir(t *testing.T) {
	_, err := New().Backup(context.Background(), sampleDocument())
	assert.ErrorIs(t, err, ErrNoBackupDir)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestLayer_ConcurrentBackups(t *testing.T) {
	l := New(WithBackupDir(t.TempDir()))

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := l.Backup(context.Background(), sampleDocument())
			return err
		})
	}
	require.NoError(t, g.Wait())

	list, err := l.ListBackups()
	require.NoError(t, err)
	assert.Len(t, list, 8)
}

func TestSniff(t *testing.T) {
	tests := []struct {
		input   string
		version string
		ok      bool
	}{
		{`{"version": "1.2.0", "scopes": {}}`, "1.2.0", true},
		{`{"_version": "0.9.0", "scopes": {}}`, "0.9.0", true},
		{`{"scopes": {}}`, "", true},
		{`{"version": "1.0.0"}`, "", false},
		{`not json`, "", false},
	}
	for _, tt := range tests {
		v, ok := Sniff([]byte(tt.input))
		assert.Equal(t, tt.ok, ok, tt.input)
		assert.Equal(t, tt.version, v, tt.input)
	}
}

func TestDocumentFromMap(t *testing.T) {
	_, err := DocumentFromMap(map[string]any{"version": "1"})
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = DocumentFromMap(map[string]any{
		"scopes":   map[string]any{},
		"profiles": []any{map[string]any{"name": "x"}},
	})
	assert.ErrorIs(t, err, ErrInvalidDocument)

	doc, err := DocumentFromMap(map[string]any{
		"version": float64(2),
		"scopes":  map[string]any{"global": map[string]any{"a": float64(1)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2", doc.Version)
	assert.Equal(t, []string{"global"}, doc.ScopeNames())
}

func TestError(t *testing.T) {
	err := &Error{Op: "write", Path: "/x.json", Err: errors.New("disk full")}
	assert.Equal(t, "persist write /x.json: disk full", err.Error())
	assert.ErrorIs(t, err, ErrPersistence)
}
