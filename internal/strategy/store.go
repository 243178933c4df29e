package strategy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Store loads strategy configurations by id.
type Store interface {
	LoadStrategyConfig(ctx context.Context, id string) (*Config, error)
}

// FileStore loads strategies from YAML files in a directory, one file
// per strategy (<id>.yaml).
type FileStore struct {
	Dir string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// LoadStrategyConfig reads and structurally validates <dir>/<id>.yaml.
func (f *FileStore) LoadStrategyConfig(ctx context.Context, id string) (*Config, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	path := filepath.Join(f.Dir, id+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadStrategyConfig | reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadStrategyConfig | parsing %s: %w", path, err)
	}
	if cfg.ID == "" {
		cfg.ID = id
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("LoadStrategyConfig | invalid strategy %s: %w", id, err)
	}
	return &cfg, nil
}
