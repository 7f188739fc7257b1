package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestSeed(t *testing.T) {
	dir := t.TempDir()

	writeManifest(t, dir, "captions.json", `{
		"packageName": "com.example.captions",
		"name": "Captions",
		"type": "standard",
		"publicUrl": "http://localhost:7010",
		"permissions": ["MICROPHONE"],
		"hardware": [{"type": "DISPLAY", "level": "REQUIRED"}]
	}`)

	writeManifest(t, dir, "notify.yaml", `
packageName: com.example.notify
name: Notify
type: background
publicUrl: http://localhost:7011
permissions:
  - NOTIFICATIONS
`)

	// A broken manifest is skipped, not fatal.
	writeManifest(t, dir, "broken.json", `{"packageName": `)

	// Non-manifest files are ignored.
	writeManifest(t, dir, "README.txt", "not a manifest")

	// Manifests in subdirectories are found.
	sub := filepath.Join(dir, "system")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeManifest(t, sub, "dashboard.yml", `
packageName: system.augmentos.dashboard
name: Dashboard
type: system
`)

	store := NewMemoryStore()
	seeder := NewSeeder(store, dir, logging.NewNop())
	require.NoError(t, seeder.Seed(context.Background()))

	assert.Equal(t, 3, store.Len())

	app, err := store.Get(context.Background(), "com.example.captions")
	require.NoError(t, err)
	assert.Equal(t, AppStandard, app.Type)
	assert.Equal(t, []Permission{PermissionMicrophone}, app.Permissions)
	require.Len(t, app.Hardware, 1)
	assert.Equal(t, "http://localhost:7010/webhook", app.WebhookURL())

	notify, err := store.Get(context.Background(), "com.example.notify")
	require.NoError(t, err)
	assert.Equal(t, AppBackground, notify.Type)

	dash, err := store.Get(context.Background(), SystemDashboard)
	require.NoError(t, err)
	assert.Equal(t, AppSystem, dash.Type)
}

func TestSeedMissingDir(t *testing.T) {
	store := NewMemoryStore()
	seeder := NewSeeder(store, filepath.Join(t.TempDir(), "nope"), logging.NewNop())
	require.NoError(t, seeder.Seed(context.Background()))
	assert.Equal(t, 0, store.Len())
}
