package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
)

// Seeder loads app manifests from disk into a store.
type Seeder struct {
	store Store
	dir   string
	log   *logging.Logger
}

// NewSeeder creates a seeder for the given manifest directory.
func NewSeeder(store Store, dir string, log *logging.Logger) *Seeder {
	return &Seeder{store: store, dir: dir, log: log}
}

// Seed walks the manifest directory and loads every .json, .yaml and
// .yml file. Individual manifest failures are logged and skipped so
// one bad file cannot empty the catalog.
func (s *Seeder) Seed(ctx context.Context) error {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		s.log.Warn("app manifest directory not found", zap.String("dir", s.dir))
		return nil
	}

	var loaded, failed int
	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(info.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if err := s.loadManifest(ctx, path, ext); err != nil {
			s.log.Warn("failed to load app manifest",
				zap.String("path", path),
				zap.Error(err))
			failed++
			return nil
		}
		loaded++
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk manifest dir %s: %w", s.dir, err)
	}

	s.log.Info("app catalog seeded",
		zap.String("dir", s.dir),
		zap.Int("loaded", loaded),
		zap.Int("failed", failed))
	return nil
}

func (s *Seeder) loadManifest(ctx context.Context, path, ext string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var app App
	switch ext {
	case ".json":
		err = json.Unmarshal(data, &app)
	default:
		err = yaml.Unmarshal(data, &app)
	}
	if err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	if err := s.store.Save(ctx, &app); err != nil {
		return err
	}
	s.log.Debug("loaded app manifest",
		zap.String("path", path),
		logging.App(app.PackageName))
	return nil
}
