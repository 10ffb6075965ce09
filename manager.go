package gravity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// ManagerKind identifies a backend process manager variant
type ManagerKind int

const (
	// ManagerSupervisor is the reconciling backend: one supervisord
	// process tree owns every managed service and stopping the tree
	// stops everything with a single terminal event.
	ManagerSupervisor ManagerKind = iota
	// ManagerSystemd is the unit-based backend: each service is an
	// independently addressable systemd unit with no aggregate stop
	// signal.
	ManagerSystemd
)

// ManagerKind string constants
const (
	ManagerSupervisorStr = "supervisor"
	ManagerSystemdStr    = "systemd"
)

// String returns the string representation of ManagerKind
func (k ManagerKind) String() string {
	switch k {
	case ManagerSupervisor:
		return ManagerSupervisorStr
	case ManagerSystemd:
		return ManagerSystemdStr
	default:
		return "unknown"
	}
}

// ServiceOutcome is the per-service result of a start/stop/restart
type ServiceOutcome struct {
	// Name is the service name
	Name string
	// Output is the backend's raw output for this service
	Output string
	// Err is the per-service failure, if any
	Err error
}

// ServiceStatus is one row of a synchronous status snapshot
type ServiceStatus struct {
	// Name is the service name
	Name string
	// Running reports whether the backend considers the process up
	Running bool
	// PID is the main process ID, 0 when not running
	PID int
	// State is the backend-native state string (RUNNING, active/running, ...)
	State string
}

// ProcessManager is the uniform surface over heterogeneous backend
// process-supervision systems. Both variants are behaviorally
// indistinguishable to the orchestrator except through the stop
// terminal-signal difference, which the orchestrator handles via Kind.
// Adapters never retry; a failed backend command surfaces immediately as
// a CommandError carrying the backend's raw output.
type ProcessManager interface {
	// Kind identifies the backend variant
	Kind() ManagerKind

	// Version computes the content version the registry's artifacts
	// would have, without writing anything.
	Version(reg *Registry) (string, error)

	// Apply writes the backend's native configuration for the registry.
	// It is idempotent: an unchanged registry leaves the artifacts
	// byte-identical and untouched unless force is set. Writes are
	// atomic (write-to-temp, rename-into-place).
	Apply(ctx context.Context, reg *Registry, force bool) (string, error)

	// Start starts the named services, or all when names is nil
	Start(ctx context.Context, names []string) ([]ServiceOutcome, error)

	// Stop stops the named services, or all when names is nil, and
	// returns the backend's raw output. For the reconciling variant the
	// output carries the terminal all-stopped marker.
	Stop(ctx context.Context, names []string) (string, error)

	// Restart is stop-then-start. It does not regenerate artifacts; a
	// configuration change is only picked up by Apply.
	Restart(ctx context.Context, names []string) ([]ServiceOutcome, error)

	// Status returns a synchronous snapshot of every managed service.
	// It must not block on readiness.
	Status(ctx context.Context) ([]ServiceStatus, error)

	// TailLog returns the backend-native log content for a service
	// since the given time.
	TailLog(ctx context.Context, name string, since time.Time) (string, error)
}

// ManagerOption configures a backend adapter
type ManagerOption func(*managerConfig)

type managerConfig struct {
	runner  Runner
	unitDir string
}

// WithRunner substitutes the command runner, used by tests to avoid
// spawning real backends.
func WithRunner(r Runner) ManagerOption {
	return func(c *managerConfig) {
		c.runner = r
	}
}

// WithUnitDir overrides the systemd unit directory
func WithUnitDir(dir string) ManagerOption {
	return func(c *managerConfig) {
		c.unitDir = dir
	}
}

// NewProcessManager creates the backend adapter for the configured kind.
// The variant is selected once here; call sites never inspect the kind
// beyond the stop/status difference the orchestrator owns.
func NewProcessManager(kind ManagerKind, cfg *Config, opts ...ManagerOption) (ProcessManager, error) {
	mc := &managerConfig{runner: ExecRunner{}}
	for _, opt := range opts {
		opt(mc)
	}

	switch kind {
	case ManagerSupervisor:
		return newSupervisorManager(cfg, mc.runner), nil
	case ManagerSystemd:
		return newSystemdManager(cfg, mc.runner, mc.unitDir), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownProcessManager, kind)
	}
}

// artifactVersion hashes a rendered artifact set into a short stable
// version string. Paths are hashed in sorted order so the version is
// independent of render order.
func artifactVersion(artifacts map[string][]byte) string {
	paths := make([]string, 0, len(artifacts))
	for p := range artifacts {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write(artifacts[p])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
