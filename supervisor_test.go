package gravity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSupervisor(t *testing.T) (*supervisorManager, *fakeRunner, *Registry) {
	t.Helper()
	cfg := testConfig(t, "")
	runner := &fakeRunner{}
	m := newSupervisorManager(cfg, runner)
	reg, err := cfg.Registry()
	require.NoError(t, err)
	return m, runner, reg
}

func TestSupervisorApplyWritesConfigTree(t *testing.T) {
	m, _, reg := newTestSupervisor(t)

	version, err := m.Apply(context.Background(), reg, false)
	require.NoError(t, err)
	require.Len(t, version, 12)

	main, err := os.ReadFile(m.confPath())
	require.NoError(t, err)
	require.Contains(t, string(main), "[supervisord]")
	require.Contains(t, string(main), "[include]")
	require.Contains(t, string(main),
		"files = supervisord.conf.d/*.conf supervisord.conf.d/*.d/*.conf")

	program, err := os.ReadFile(filepath.Join(m.instanceConfDir(), "galaxy_web_gunicorn.conf"))
	require.NoError(t, err)
	require.Contains(t, string(program), "[program:gunicorn]")
	require.Contains(t, string(program), "command = gunicorn")
	require.Contains(t, string(program),
		"stdout_logfile = "+filepath.Join(m.logDir(), "gunicorn.log"))
	require.Contains(t, string(program), "redirect_stderr = true")

	group, err := os.ReadFile(filepath.Join(m.supervisorDir(), "supervisord.conf.d", "_default_.conf"))
	require.NoError(t, err)
	require.Contains(t, string(group), "[group:_default_]")
	require.Contains(t, string(group), "programs = gunicorn,celery,celery-beat")
}

func TestSupervisorApplyIdempotent(t *testing.T) {
	m, _, reg := newTestSupervisor(t)
	ctx := context.Background()

	v1, err := m.Apply(ctx, reg, false)
	require.NoError(t, err)

	// Age the artifact so an untouched file is distinguishable from a rewrite
	program := filepath.Join(m.instanceConfDir(), "galaxy_web_gunicorn.conf")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(program, old, old))

	v2, err := m.Apply(ctx, reg, false)
	require.NoError(t, err)
	require.Equal(t, v1, v2)

	info, err := os.Stat(program)
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(old), "unchanged artifact was rewritten")

	// force rewrites even byte-identical artifacts
	v3, err := m.Apply(ctx, reg, true)
	require.NoError(t, err)
	require.Equal(t, v1, v3)

	info, err = os.Stat(program)
	require.NoError(t, err)
	require.False(t, info.ModTime().Equal(old), "force did not rewrite")
}

func TestSupervisorApplyPrunesStalePrograms(t *testing.T) {
	m, _, reg := newTestSupervisor(t)
	ctx := context.Background()

	_, err := m.Apply(ctx, reg, false)
	require.NoError(t, err)

	stale := filepath.Join(m.instanceConfDir(), "galaxy_worker_removed.conf")
	require.NoError(t, os.WriteFile(stale, []byte("[program:removed]\n"), 0o644))

	_, err = m.Apply(ctx, reg, false)
	require.NoError(t, err)
	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))
}

func TestSupervisorVersionTracksContent(t *testing.T) {
	m, _, reg := newTestSupervisor(t)

	v1, err := m.Version(reg)
	require.NoError(t, err)
	v2, err := m.Version(reg)
	require.NoError(t, err)
	require.Equal(t, v1, v2)

	changed := testConfig(t, "gravity:\n  gunicorn:\n    workers: 4\n")
	m2 := newSupervisorManager(changed, &fakeRunner{})
	reg2, err := changed.Registry()
	require.NoError(t, err)
	v3, err := m2.Version(reg2)
	require.NoError(t, err)
	require.NotEqual(t, v1, v3)
}

func TestSupervisorVersionTracksURLPrefix(t *testing.T) {
	plain := testConfig(t, "")
	prefixed := testConfig(t, "galaxy:\n  galaxy_url_prefix: /galaxy\n")

	// Same state dir so only the prefix differs between renders
	prefixed.Gravity.StateDir = plain.Gravity.StateDir

	regPlain, err := plain.Registry()
	require.NoError(t, err)
	regPrefixed, err := prefixed.Registry()
	require.NoError(t, err)

	mPlain := newSupervisorManager(plain, &fakeRunner{})
	mPrefixed := newSupervisorManager(prefixed, &fakeRunner{})

	v1, err := mPlain.Version(regPlain)
	require.NoError(t, err)
	v2, err := mPrefixed.Version(regPrefixed)
	require.NoError(t, err)
	require.NotEqual(t, v1, v2, "prefix change must change the artifacts")
}

func TestSupervisorStartReconcilesAndReportsStatus(t *testing.T) {
	m, runner, _ := newTestSupervisor(t)
	runner.stub("status",
		"_default_:gunicorn     RUNNING   pid 101, uptime 0:00:05\n"+
			"_default_:celery       RUNNING   pid 102, uptime 0:00:05\n"+
			"_default_:celery-beat  STARTING\n", nil)

	outcomes, err := m.Start(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	require.Equal(t, "gunicorn RUNNING", outcomes[0].Output)

	require.Equal(t, 1, runner.called("update"))
	require.Equal(t, 1, runner.called("start _default_:*"))
}

func TestSupervisorStartSpawnsDaemonWhenDown(t *testing.T) {
	m, runner, _ := newTestSupervisor(t)
	runner.stub("pid", "", errors.New("refused connection"))

	_, err := m.Start(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, runner.called("supervisord -c "+m.confPath()))
}

func TestSupervisorStopEmitsAllStoppedMarker(t *testing.T) {
	m, runner, _ := newTestSupervisor(t)

	out, err := m.Stop(context.Background(), nil)
	require.NoError(t, err)
	require.Contains(t, out, AllStoppedMarker)

	require.Equal(t, 1, runner.called("stop _default_:*"))
	require.Equal(t, 1, runner.called("shutdown"))
}

func TestSupervisorStopDoesNotDuplicateMarker(t *testing.T) {
	m, runner, _ := newTestSupervisor(t)
	runner.stub("shutdown",
		"Shut down\n"+AllStoppedMarker+"\n", nil)

	out, err := m.Stop(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(out, AllStoppedMarker))
}

func TestSupervisorStopNamed(t *testing.T) {
	m, runner, _ := newTestSupervisor(t)

	out, err := m.Stop(context.Background(), []string{"celery"})
	require.NoError(t, err)
	require.NotContains(t, out, AllStoppedMarker)
	require.Equal(t, 1, runner.called("stop _default_:celery"))
	require.Equal(t, 0, runner.called("shutdown"))
}

func TestSupervisorStatusToleratesNonZeroExit(t *testing.T) {
	m, runner, _ := newTestSupervisor(t)
	// supervisorctl exits non-zero when any child is down but still
	// prints the full snapshot
	runner.stub("status",
		"_default_:gunicorn  STOPPED   Jan 01 00:00 AM\n", errors.New("exit status 3"))

	statuses, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, "gunicorn", statuses[0].Name)
	require.False(t, statuses[0].Running)
}

func TestSupervisorTailLogReadsFile(t *testing.T) {
	m, _, _ := newTestSupervisor(t)
	require.NoError(t, os.MkdirAll(m.logDir(), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(m.logDir(), "gx-it-proxy.log"),
		[]byte("Watching path /tmp/sessions.sqlite\n"), 0o644))

	out, err := m.TailLog(context.Background(), "gx-it-proxy", time.Now())
	require.NoError(t, err)
	require.Contains(t, out, "Watching path")
}

func TestParseSupervisorStatus(t *testing.T) {
	out := "_default_:gunicorn     RUNNING   pid 4242, uptime 1:02:03\n" +
		"_default_:celery       STOPPED   Not started\n" +
		"other:gunicorn         RUNNING   pid 9, uptime 0:00:01\n" +
		"\n"

	statuses := parseSupervisorStatus(out, "_default_")
	require.Len(t, statuses, 2)

	require.Equal(t, "gunicorn", statuses[0].Name)
	require.True(t, statuses[0].Running)
	require.Equal(t, 4242, statuses[0].PID)
	require.Equal(t, "RUNNING", statuses[0].State)

	require.Equal(t, "celery", statuses[1].Name)
	require.False(t, statuses[1].Running)
	require.Zero(t, statuses[1].PID)
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"plain", "plain"},
		{"has space", "'has space'"},
		{"it's", `'it'\''s'`},
		{"a$b", "'a$b'"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, shellQuote(tt.in))
	}
}
