package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	servicesFile = "servers.json"
	bridgesFile  = "bridges.json"
	agentsFile   = "agents.json"
)

// Snapshot persists the store's collections as whole-file JSON snapshots,
// one file per collection under the data directory. Writes go to a temp
// file first and are renamed into place so a crash never leaves a truncated
// snapshot behind.
type Snapshot struct {
	dir    string
	logger *zap.Logger
}

// NewSnapshot creates a snapshot codec rooted at dir, creating the
// directory if needed.
func NewSnapshot(dir string, logger *zap.Logger) (*Snapshot, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &Snapshot{dir: dir, logger: logger}, nil
}

// SaveServices writes the service collection snapshot.
func (s *Snapshot) SaveServices(records map[string]*ServiceRecord) error {
	return s.save(servicesFile, records)
}

// SaveBridges writes the translation record collection snapshot.
func (s *Snapshot) SaveBridges(records map[string]*TranslationRecord) error {
	return s.save(bridgesFile, records)
}

// SaveAgents writes the tool-agent collection snapshot.
func (s *Snapshot) SaveAgents(records map[string]*ToolAgentRecord) error {
	return s.save(agentsFile, records)
}

// LoadServices reads the service collection. A missing or corrupt file is
// logged and yields an empty collection.
func (s *Snapshot) LoadServices() map[string]*ServiceRecord {
	records := make(map[string]*ServiceRecord)
	if !s.load(servicesFile, &records) {
		return make(map[string]*ServiceRecord)
	}
	return records
}

// LoadBridges reads the translation record collection.
func (s *Snapshot) LoadBridges() map[string]*TranslationRecord {
	records := make(map[string]*TranslationRecord)
	if !s.load(bridgesFile, &records) {
		return make(map[string]*TranslationRecord)
	}
	return records
}

// LoadAgents reads the tool-agent collection.
func (s *Snapshot) LoadAgents() map[string]*ToolAgentRecord {
	records := make(map[string]*ToolAgentRecord)
	if !s.load(agentsFile, &records) {
		return make(map[string]*ToolAgentRecord)
	}
	return records
}

func (s *Snapshot) save(name string, v any) error {
	path := filepath.Join(s.dir, name)

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Err: err}
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

// load fills v from the named snapshot file and reports whether the parse
// succeeded. Parse failures are downgraded to a logged skip so a corrupt
// file never blocks startup; the next mutation overwrites it with a fresh
// snapshot.
func (s *Snapshot) load(name string, v any) bool {
	path := filepath.Join(s.dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read snapshot, starting with empty collection",
				zap.String("path", path),
				zap.Error(err))
		}
		return true
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("Failed to parse snapshot, starting with empty collection",
			zap.String("path", path),
			zap.Error(err))
		return false
	}
	return true
}
