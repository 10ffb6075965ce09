package gravity

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Filenames under the state directory
const (
	stateFileName     = "gravity.yml"
	lockFileName      = "gravity.lock"
	instancesFileName = "instances.yml"

	// CeleryBeatDBFilename is the stem of the scheduler's persisted job
	// database. The underlying storage engine may append a suffix, so
	// existence checks must cover all variants; see BeatDBCandidates.
	CeleryBeatDBFilename = "celery-beat-schedule"
)

// beatDBExtensions are the suffixes the scheduler's storage engine may
// append to CeleryBeatDBFilename.
var beatDBExtensions = []string{"", ".db", ".dat", ".bak", ".dir"}

// State is the persisted runtime record for one instance: which backend
// is active, where its artifacts live, and the generated configuration's
// version. It is created on first update and rewritten on every update.
type State struct {
	// ProcessManager is the active backend kind
	ProcessManager string `yaml:"process_manager"`
	// ConfigFile is the configuration file this state was generated from
	ConfigFile string `yaml:"config_file"`
	// InstanceName is the instance the artifacts belong to
	InstanceName string `yaml:"instance_name"`
	// ArtifactVersion is the content hash of the generated artifacts
	ArtifactVersion string `yaml:"artifact_version"`
	// UpdatedAt is when the artifacts were last generated
	UpdatedAt time.Time `yaml:"updated_at"`
	// StartedAt is when the services were last started, zero before the
	// first start. Log-scoped readiness checks window on it.
	StartedAt time.Time `yaml:"started_at,omitempty"`
}

// SaveState atomically persists the runtime state record in stateDir
func SaveState(stateDir string, st *State) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return &WriteError{Path: stateDir, Err: err}
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return &WriteError{Path: stateDir, Err: err}
	}
	path := filepath.Join(stateDir, stateFileName)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// LoadState reads the runtime state record. A missing record means the
// instance has never been updated and returns ErrNotConfigured.
func LoadState(stateDir string) (*State, error) {
	path := filepath.Join(stateDir, stateFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotConfigured
		}
		return nil, err
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("reading state record %q: %w", path, err)
	}
	return &st, nil
}

// lockState acquires the per-instance exclusive lock used to serialize
// update/apply against concurrent invocations. The returned release
// function must be called once the artifacts and state are written.
func lockState(stateDir string) (func(), error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, &WriteError{Path: stateDir, Err: err}
	}
	fl := flock.New(filepath.Join(stateDir, lockFileName))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring state lock: %w", err)
	}
	return func() { _ = fl.Unlock() }, nil
}

// BeatDBCandidates returns every path the scheduler's persisted database
// may exist under in stateDir.
func BeatDBCandidates(stateDir string) []string {
	paths := make([]string, 0, len(beatDBExtensions))
	for _, ext := range beatDBExtensions {
		paths = append(paths, filepath.Join(stateDir, CeleryBeatDBFilename+ext))
	}
	return paths
}

// BeatDBExists reports whether any scheduler database variant exists
func BeatDBExists(stateDir string) bool {
	for _, p := range BeatDBCandidates(stateDir) {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// InstanceRecord is one entry of the instance registry consumed by list
type InstanceRecord struct {
	// ConfigFile is the instance's configuration file path
	ConfigFile string `yaml:"config_file"`
	// ConfigType identifies the application the file configures
	ConfigType string `yaml:"config_type"`
	// InstanceName is the declared instance name
	InstanceName string `yaml:"instance_name"`
}

type instancesFile struct {
	Instances []InstanceRecord `yaml:"instances"`
}

// RegisterInstance records an instance in the registry file so list can
// enumerate it. Re-registering the same config file is a no-op.
func RegisterInstance(stateDir string, rec InstanceRecord) error {
	records, err := ListInstances(stateDir)
	if err != nil {
		return err
	}
	for i, existing := range records {
		if existing.ConfigFile == rec.ConfigFile {
			records[i] = rec
			return writeInstances(stateDir, records)
		}
	}
	return writeInstances(stateDir, append(records, rec))
}

// ListInstances enumerates all instances recorded in stateDir
func ListInstances(stateDir string) ([]InstanceRecord, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, instancesFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var f instancesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("reading instance registry: %w", err)
	}
	return f.Instances, nil
}

func writeInstances(stateDir string, records []InstanceRecord) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return &WriteError{Path: stateDir, Err: err}
	}
	data, err := yaml.Marshal(&instancesFile{Instances: records})
	if err != nil {
		return &WriteError{Path: stateDir, Err: err}
	}
	path := filepath.Join(stateDir, instancesFileName)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}
