package gravity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProcessManager(t *testing.T) {
	cfg := testConfig(t, "")

	m, err := NewProcessManager(ManagerSupervisor, cfg, WithRunner(&fakeRunner{}))
	require.NoError(t, err)
	require.Equal(t, ManagerSupervisor, m.Kind())

	m, err = NewProcessManager(ManagerSystemd, cfg, WithRunner(&fakeRunner{}), WithUnitDir(t.TempDir()))
	require.NoError(t, err)
	require.Equal(t, ManagerSystemd, m.Kind())

	_, err = NewProcessManager(ManagerKind(42), cfg)
	require.ErrorIs(t, err, ErrUnknownProcessManager)
}

func TestManagerKindString(t *testing.T) {
	require.Equal(t, "supervisor", ManagerSupervisor.String())
	require.Equal(t, "systemd", ManagerSystemd.String())
	require.Equal(t, "unknown", ManagerKind(42).String())
}

func TestArtifactVersion(t *testing.T) {
	a := map[string][]byte{
		"/etc/one.conf": []byte("alpha"),
		"/etc/two.conf": []byte("beta"),
	}
	v1 := artifactVersion(a)
	require.Len(t, v1, 12)
	require.Equal(t, v1, artifactVersion(a))

	// Content changes change the version
	a["/etc/two.conf"] = []byte("gamma")
	require.NotEqual(t, v1, artifactVersion(a))

	// Path changes change the version even with identical content
	b := map[string][]byte{
		"/etc/one.conf":   []byte("alpha"),
		"/etc/three.conf": []byte("beta"),
	}
	require.NotEqual(t, v1, artifactVersion(b))
}
