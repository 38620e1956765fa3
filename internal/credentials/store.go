package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/frostdev-ops/hmip-go/internal/adapters/hmip"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Load when nothing was saved yet
var ErrNotFound = errors.New("credentials file not found")

// Store persists the data needed to skip pairing on the next start
type Store interface {
	Load() (hmip.SaveData, error)
	Save(data hmip.SaveData) error
}

type fileContent struct {
	hmip.SaveData `yaml:",inline"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

// FileStore keeps save data in a YAML file readable only by the owner
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store for path. The file is created on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (hmip.SaveData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return hmip.SaveData{}, ErrNotFound
		}
		return hmip.SaveData{}, fmt.Errorf("failed to read credentials: %w", err)
	}

	var content fileContent
	if err := yaml.Unmarshal(b, &content); err != nil {
		return hmip.SaveData{}, fmt.Errorf("failed to parse credentials %s: %w", s.path, err)
	}
	return content.SaveData, nil
}

// Save writes data atomically through a temp file in the same directory
func (s *FileStore) Save(data hmip.SaveData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := yaml.Marshal(fileContent{SaveData: data, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".hmip-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set credentials permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credentials file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace credentials: %w", err)
	}
	return nil
}

// Merge overlays non-empty fields of override onto base
func Merge(base, override hmip.SaveData) hmip.SaveData {
	if override.AccessPointID != "" {
		base.AccessPointID = override.AccessPointID
	}
	if override.AuthToken != "" {
		base.AuthToken = override.AuthToken
	}
	if override.ClientID != "" {
		base.ClientID = override.ClientID
	}
	if override.DeviceID != "" {
		base.DeviceID = override.DeviceID
	}
	if override.Pin != "" {
		base.Pin = override.Pin
	}
	return base
}
