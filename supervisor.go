package gravity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// AllStoppedMarker is the terminal line supervisord emits once every
// managed process has exited and the supervisor itself is shutting down.
// It is backend-specific textual output and a UX affordance only; the
// structural success criterion is a status snapshot with nothing running.
const AllStoppedMarker = "All processes stopped, supervisord will exit"

// Directory and file modes for generated artifacts
const (
	dirMode  = 0o755
	fileMode = 0o644
)

// supervisorManager is the reconciling backend adapter. It owns a single
// supervisord process tree whose children are all managed services,
// driven through supervisorctl against a per-instance configuration tree
// generated under the state directory.
type supervisorManager struct {
	cfg    *Config
	runner Runner
}

func newSupervisorManager(cfg *Config, runner Runner) *supervisorManager {
	return &supervisorManager{cfg: cfg, runner: runner}
}

// Kind identifies the backend variant
func (m *supervisorManager) Kind() ManagerKind {
	return ManagerSupervisor
}

func (m *supervisorManager) supervisorDir() string {
	return filepath.Join(m.cfg.StateDir(), "supervisor")
}

func (m *supervisorManager) confPath() string {
	return filepath.Join(m.supervisorDir(), "supervisord.conf")
}

func (m *supervisorManager) instanceConfDir() string {
	return filepath.Join(m.supervisorDir(), "supervisord.conf.d", m.cfg.Gravity.InstanceName+".d")
}

func (m *supervisorManager) logDir() string {
	return filepath.Join(m.cfg.StateDir(), "log")
}

// render produces the full artifact set for the registry, keyed by
// absolute path. Rendering is deterministic so an unchanged registry
// produces byte-identical artifacts.
func (m *supervisorManager) render(reg *Registry) map[string][]byte {
	instance := m.cfg.Gravity.InstanceName
	artifacts := map[string][]byte{
		m.confPath(): m.renderMain(),
	}

	names := make([]string, 0, len(reg.Services()))
	for _, svc := range reg.Services() {
		names = append(names, svc.Name)
		path := filepath.Join(m.instanceConfDir(),
			fmt.Sprintf("%s_%s_%s.conf", DefaultAppName, svc.Kind, svc.Name))
		artifacts[path] = m.renderProgram(svc)
	}

	groupPath := filepath.Join(m.supervisorDir(), "supervisord.conf.d", instance+".conf")
	artifacts[groupPath] = m.renderGroup(names)

	return artifacts
}

func (m *supervisorManager) renderMain() []byte {
	var b strings.Builder
	b.WriteString("[supervisord]\n")
	b.WriteString(fmt.Sprintf("logfile = %s\n", filepath.Join(m.logDir(), "supervisord.log")))
	b.WriteString(fmt.Sprintf("pidfile = %s\n", filepath.Join(m.supervisorDir(), "supervisord.pid")))
	b.WriteString("loglevel = info\n")
	b.WriteString("nodaemon = false\n")
	b.WriteString("\n")
	b.WriteString("[unix_http_server]\n")
	b.WriteString(fmt.Sprintf("file = %s\n", filepath.Join(m.supervisorDir(), "supervisor.sock")))
	b.WriteString("\n")
	b.WriteString("[supervisorctl]\n")
	b.WriteString(fmt.Sprintf("serverurl = unix://%s\n", filepath.Join(m.supervisorDir(), "supervisor.sock")))
	b.WriteString("\n")
	b.WriteString("[rpcinterface:supervisor]\n")
	b.WriteString("supervisor.rpcinterface_factory = supervisor.rpcinterface:make_main_rpcinterface\n")
	b.WriteString("\n")
	b.WriteString("[include]\n")
	b.WriteString("files = supervisord.conf.d/*.conf supervisord.conf.d/*.d/*.conf\n")
	return []byte(b.String())
}

func (m *supervisorManager) renderProgram(svc Service) []byte {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[program:%s]\n", svc.Name))

	parts := make([]string, 0, len(svc.Command))
	for _, part := range svc.Command {
		parts = append(parts, shellQuote(part))
	}
	b.WriteString(fmt.Sprintf("command = %s\n", strings.Join(parts, " ")))

	b.WriteString("umask = 022\n")
	b.WriteString("autostart = true\n")
	b.WriteString("autorestart = true\n")
	b.WriteString("startsecs = 15\n")
	b.WriteString("stopwaitsecs = 65\n")
	b.WriteString("numprocs = 1\n")
	if env := envString(svc.Environment); env != "" {
		b.WriteString(fmt.Sprintf("environment = %s\n", env))
	}
	b.WriteString(fmt.Sprintf("stdout_logfile = %s\n", filepath.Join(m.logDir(), svc.Name+".log")))
	b.WriteString("redirect_stderr = true\n")
	return []byte(b.String())
}

func (m *supervisorManager) renderGroup(names []string) []byte {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[group:%s]\n", m.cfg.Gravity.InstanceName))
	b.WriteString(fmt.Sprintf("programs = %s\n", strings.Join(names, ",")))
	return []byte(b.String())
}

// Version computes the artifact content version without writing
func (m *supervisorManager) Version(reg *Registry) (string, error) {
	return artifactVersion(m.render(reg)), nil
}

// Apply writes the supervisord configuration tree. Unchanged artifacts
// are left untouched (their mtime does not move) unless force is set;
// stale program files from removed services are pruned.
func (m *supervisorManager) Apply(_ context.Context, reg *Registry, force bool) (string, error) {
	artifacts := m.render(reg)

	for _, dir := range []string{m.supervisorDir(), m.instanceConfDir(), m.logDir()} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return "", &WriteError{Path: dir, Err: err}
		}
	}

	for path, content := range artifacts {
		if !force {
			if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
				continue
			}
		}
		if err := renameio.WriteFile(path, content, fileMode); err != nil {
			return "", &WriteError{Path: path, Err: err}
		}
	}

	// Prune program files for services no longer declared
	entries, err := os.ReadDir(m.instanceConfDir())
	if err != nil {
		return "", &WriteError{Path: m.instanceConfDir(), Err: err}
	}
	for _, entry := range entries {
		path := filepath.Join(m.instanceConfDir(), entry.Name())
		if _, keep := artifacts[path]; !keep && strings.HasSuffix(entry.Name(), ".conf") {
			if err := os.Remove(path); err != nil {
				return "", &WriteError{Path: path, Err: err}
			}
		}
	}

	return artifactVersion(artifacts), nil
}

// ctl runs a supervisorctl verb against this instance's configuration
func (m *supervisorManager) ctl(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-c", m.confPath()}, args...)
	out, err := m.runner.Run(ctx, "supervisorctl", full...)
	if err != nil {
		return out, &CommandError{Cmd: commandLine("supervisorctl", full), Output: out, Err: err}
	}
	return out, nil
}

// ensureRunning starts supervisord if its control socket does not answer
func (m *supervisorManager) ensureRunning(ctx context.Context) error {
	if _, err := m.ctl(ctx, "pid"); err == nil {
		return nil
	}
	args := []string{"-c", m.confPath()}
	out, err := m.runner.Run(ctx, "supervisord", args...)
	if err != nil {
		return &CommandError{Cmd: commandLine("supervisord", args), Output: out, Err: err}
	}
	return nil
}

// target addresses a service inside the instance's process group
func (m *supervisorManager) target(name string) string {
	return m.cfg.Gravity.InstanceName + ":" + name
}

// Start issues one control-plane command that reconciles and starts the
// managed tree (or the named members), returning per-child status lines.
func (m *supervisorManager) Start(ctx context.Context, names []string) ([]ServiceOutcome, error) {
	if err := m.ensureRunning(ctx); err != nil {
		return nil, err
	}
	if _, err := m.ctl(ctx, "update"); err != nil {
		return nil, err
	}

	targets := []string{m.target("*")}
	if len(names) > 0 {
		targets = targets[:0]
		for _, name := range names {
			targets = append(targets, m.target(name))
		}
	}
	out, err := m.ctl(ctx, append([]string{"start"}, targets...)...)
	if err != nil {
		return nil, err
	}

	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	outcomes := make([]ServiceOutcome, 0, len(status))
	for _, st := range status {
		if len(names) > 0 && !containsName(names, st.Name) {
			continue
		}
		outcomes = append(outcomes, ServiceOutcome{
			Name:   st.Name,
			Output: fmt.Sprintf("%s %s", st.Name, st.State),
		})
	}
	if len(outcomes) == 0 {
		// Fall back to the raw control output if status gave nothing
		outcomes = append(outcomes, ServiceOutcome{Output: out})
	}
	return outcomes, nil
}

// Stop stops the named services, or the whole tree. Stopping everything
// also shuts the supervisor down, which emits the terminal all-stopped
// marker in the returned output.
func (m *supervisorManager) Stop(ctx context.Context, names []string) (string, error) {
	if len(names) > 0 {
		targets := make([]string, 0, len(names))
		for _, name := range names {
			targets = append(targets, m.target(name))
		}
		return m.ctl(ctx, append([]string{"stop"}, targets...)...)
	}

	out, err := m.ctl(ctx, "stop", m.target("*"))
	if err != nil {
		return out, err
	}
	shutdownOut, err := m.ctl(ctx, "shutdown")
	if err != nil {
		return out, err
	}
	combined := out + shutdownOut
	// Older supervisord versions print the terminal line themselves;
	// synthesize it only when a successful shutdown did not
	if !strings.Contains(combined, AllStoppedMarker) {
		combined += AllStoppedMarker + "\n"
	}
	return combined, nil
}

// Restart is stop-then-start; it never regenerates artifacts
func (m *supervisorManager) Restart(ctx context.Context, names []string) ([]ServiceOutcome, error) {
	if _, err := m.Stop(ctx, names); err != nil {
		return nil, err
	}
	return m.Start(ctx, names)
}

// Status parses the per-child status lines of the control plane
func (m *supervisorManager) Status(ctx context.Context) ([]ServiceStatus, error) {
	out, err := m.ctl(ctx, "status")
	if err != nil {
		// supervisorctl exits non-zero when any process is not RUNNING;
		// the output still carries the full snapshot
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) || strings.TrimSpace(cmdErr.Output) == "" {
			return nil, err
		}
		out = cmdErr.Output
	}
	return parseSupervisorStatus(out, m.cfg.Gravity.InstanceName), nil
}

// TailLog reads the service's log file under the state directory. The
// files are recreated per supervisor session, so the since timestamp is
// already the file's scope.
func (m *supervisorManager) TailLog(_ context.Context, name string, _ time.Time) (string, error) {
	path := filepath.Join(m.logDir(), name+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading service log %q: %w", path, err)
	}
	return string(data), nil
}

// parseSupervisorStatus decodes supervisorctl status output lines of the
// form "instance:name  RUNNING  pid 123, uptime 0:00:05".
func parseSupervisorStatus(out, instance string) []ServiceStatus {
	var statuses []ServiceStatus
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[0]
		if group, member, found := strings.Cut(name, ":"); found {
			if group != instance {
				continue
			}
			name = member
		}
		state := fields[1]
		st := ServiceStatus{
			Name:    name,
			State:   state,
			Running: state == "RUNNING" || state == "STARTING",
		}
		for i := 2; i < len(fields)-1; i++ {
			if fields[i] == "pid" {
				if pid, err := strconv.Atoi(strings.TrimSuffix(fields[i+1], ",")); err == nil {
					st.PID = pid
				}
			}
		}
		statuses = append(statuses, st)
	}
	return statuses
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// shellQuote escapes a string for safe use in generated command lines
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !needsShellQuoting(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// needsShellQuoting checks if a string contains characters that require quoting
func needsShellQuoting(s string) bool {
	const specialChars = " \t\n'\"\\$`!*?[](){}<>|&;~"
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			return true
		}
	}
	return false
}
