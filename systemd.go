package gravity

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// systemdManager is the unit-based backend adapter. Every service is an
// independently addressable `galaxy-<name>.service` unit managed with
// systemctl in user mode; logs live in the journal, scoped by unit name
// and time.
type systemdManager struct {
	cfg     *Config
	runner  Runner
	unitDir string
}

func newSystemdManager(cfg *Config, runner Runner, unitDir string) *systemdManager {
	if unitDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			unitDir = filepath.Join(home, ".config", "systemd", "user")
		}
	}
	return &systemdManager{cfg: cfg, runner: runner, unitDir: unitDir}
}

// Kind identifies the backend variant
func (m *systemdManager) Kind() ManagerKind {
	return ManagerSystemd
}

// unitName maps a service name to its unit file name
func unitName(name string) string {
	return DefaultAppName + "-" + name + ".service"
}

// render produces the unit file set for the registry, keyed by path
func (m *systemdManager) render(reg *Registry) map[string][]byte {
	artifacts := make(map[string][]byte, len(reg.Services()))
	for _, svc := range reg.Services() {
		artifacts[filepath.Join(m.unitDir, unitName(svc.Name))] = m.renderUnit(svc)
	}
	return artifacts
}

func (m *systemdManager) renderUnit(svc Service) []byte {
	var unit strings.Builder

	unit.WriteString("[Unit]\n")
	unit.WriteString(fmt.Sprintf("Description=%s %s\n", DefaultAppName, svc.Name))
	unit.WriteString("After=network.target\n")
	unit.WriteString("\n")

	unit.WriteString("[Service]\n")
	unit.WriteString("Type=simple\n")
	unit.WriteString("Restart=always\n")
	unit.WriteString("RestartSec=1\n")
	unit.WriteString("KillMode=mixed\n")
	unit.WriteString("KillSignal=SIGTERM\n")
	unit.WriteString("TimeoutStopSec=65\n")
	unit.WriteString("UMask=022\n")

	keys := make([]string, 0, len(svc.Environment))
	for k := range svc.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		escaped := strings.ReplaceAll(svc.Environment[k], `"`, `\"`)
		unit.WriteString(fmt.Sprintf("Environment=\"%s=%s\"\n", k, escaped))
	}

	execStart := svc.Command[0]
	for _, arg := range svc.Command[1:] {
		if strings.ContainsAny(arg, " \t\n\"'\\$") {
			arg = fmt.Sprintf("%q", arg)
		}
		execStart += " " + arg
	}
	unit.WriteString(fmt.Sprintf("ExecStart=%s\n", execStart))

	unit.WriteString("StandardOutput=journal\n")
	unit.WriteString("StandardError=journal\n")
	unit.WriteString(fmt.Sprintf("SyslogIdentifier=%s-%s\n", DefaultAppName, svc.Name))
	unit.WriteString("\n")

	unit.WriteString("[Install]\n")
	unit.WriteString("WantedBy=default.target\n")

	return []byte(unit.String())
}

// Version computes the artifact content version without writing
func (m *systemdManager) Version(reg *Registry) (string, error) {
	return artifactVersion(m.render(reg)), nil
}

// Apply writes the unit files atomically, prunes units for removed
// services, and reloads the manager when anything changed.
func (m *systemdManager) Apply(ctx context.Context, reg *Registry, force bool) (string, error) {
	artifacts := m.render(reg)

	if err := os.MkdirAll(m.unitDir, dirMode); err != nil {
		return "", &WriteError{Path: m.unitDir, Err: err}
	}

	changed := false
	for path, content := range artifacts {
		if !force {
			if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
				continue
			}
		}
		if err := renameio.WriteFile(path, content, fileMode); err != nil {
			return "", &WriteError{Path: path, Err: err}
		}
		changed = true
	}

	// Prune units for services no longer declared
	pattern := filepath.Join(m.unitDir, DefaultAppName+"-*.service")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", &WriteError{Path: pattern, Err: err}
	}
	for _, path := range matches {
		if _, keep := artifacts[path]; !keep {
			if err := os.Remove(path); err != nil {
				return "", &WriteError{Path: path, Err: err}
			}
			changed = true
		}
	}

	if changed {
		if _, err := m.systemctl(ctx, "daemon-reload"); err != nil {
			return "", err
		}
	}

	return artifactVersion(artifacts), nil
}

// systemctl runs a systemctl verb in user mode with captured output
func (m *systemdManager) systemctl(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"--user"}, args...)
	out, err := m.runner.Run(ctx, "systemctl", full...)
	if err != nil {
		return out, &CommandError{Cmd: commandLine("systemctl", full), Output: out, Err: err}
	}
	return out, nil
}

// managedServices resolves the service set, restricted to names when given
func (m *systemdManager) managedServices(names []string) ([]Service, error) {
	reg, err := m.cfg.Registry()
	if err != nil {
		return nil, err
	}
	services := reg.Services()
	if len(names) == 0 {
		return services, nil
	}
	selected := make([]Service, 0, len(names))
	for _, name := range names {
		svc, err := reg.Service(name)
		if err != nil {
			return nil, err
		}
		selected = append(selected, svc)
	}
	return selected, nil
}

// Start issues one start command per unit
func (m *systemdManager) Start(ctx context.Context, names []string) ([]ServiceOutcome, error) {
	services, err := m.managedServices(names)
	if err != nil {
		return nil, err
	}
	outcomes := make([]ServiceOutcome, 0, len(services))
	for _, svc := range services {
		out, err := m.systemctl(ctx, "start", unitName(svc.Name))
		outcomes = append(outcomes, ServiceOutcome{Name: svc.Name, Output: out, Err: err})
	}
	return outcomes, nil
}

// Stop issues one stop command per unit. There is no aggregate stopped
// signal; the returned output is neutral and callers confirm shutdown
// through Status.
func (m *systemdManager) Stop(ctx context.Context, names []string) (string, error) {
	services, err := m.managedServices(names)
	if err != nil {
		return "", err
	}
	merr := &MultiError{}
	for _, svc := range services {
		if _, err := m.systemctl(ctx, "stop", unitName(svc.Name)); err != nil {
			merr.Add(err)
		}
	}
	return "", merr.Err()
}

// Restart is stop-then-start per unit
func (m *systemdManager) Restart(ctx context.Context, names []string) ([]ServiceOutcome, error) {
	if _, err := m.Stop(ctx, names); err != nil {
		return nil, err
	}
	return m.Start(ctx, names)
}

// Status queries each unit's ActiveState/SubState/MainPID
func (m *systemdManager) Status(ctx context.Context) ([]ServiceStatus, error) {
	services, err := m.managedServices(nil)
	if err != nil {
		return nil, err
	}
	statuses := make([]ServiceStatus, 0, len(services))
	for _, svc := range services {
		out, err := m.systemctl(ctx, "show", "--no-page",
			"--property=ActiveState,SubState,MainPID", unitName(svc.Name))
		if err != nil {
			return nil, err
		}
		st := parseUnitStatus(out)
		st.Name = svc.Name
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// TailLog queries the journal scoped by unit name and start time
func (m *systemdManager) TailLog(ctx context.Context, name string, since time.Time) (string, error) {
	args := []string{
		"--user", "--no-pager",
		fmt.Sprintf("--since=@%d", since.Unix()),
		"--unit=" + unitName(name),
	}
	out, err := m.runner.Run(ctx, "journalctl", args...)
	if err != nil {
		return out, &CommandError{Cmd: commandLine("journalctl", args), Output: out, Err: err}
	}
	return out, nil
}

// parseUnitStatus decodes systemctl show key=value output
func parseUnitStatus(out string) ServiceStatus {
	var st ServiceStatus
	var active, sub string
	for _, line := range strings.Split(out, "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "ActiveState":
			active = value
		case "SubState":
			sub = value
		case "MainPID":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				st.PID = pid
			}
		}
	}
	st.Running = active == "active" && sub == "running"
	st.State = active
	if sub != "" {
		st.State = active + "/" + sub
	}
	return st
}
