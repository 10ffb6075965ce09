package gravity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := &State{
		ProcessManager:  ManagerSupervisorStr,
		ConfigFile:      "/srv/galaxy/config/galaxy.yml",
		InstanceName:    DefaultInstanceName,
		ArtifactVersion: "0123456789ab",
		UpdatedAt:       time.Now().Truncate(time.Second),
		StartedAt:       time.Now().Truncate(time.Second).Add(time.Minute),
	}
	require.NoError(t, SaveState(dir, st))

	loaded, err := LoadState(dir)
	require.NoError(t, err)
	require.Equal(t, st.ProcessManager, loaded.ProcessManager)
	require.Equal(t, st.ConfigFile, loaded.ConfigFile)
	require.Equal(t, st.InstanceName, loaded.InstanceName)
	require.Equal(t, st.ArtifactVersion, loaded.ArtifactVersion)
	require.True(t, st.UpdatedAt.Equal(loaded.UpdatedAt))
	require.True(t, st.StartedAt.Equal(loaded.StartedAt))
}

func TestLoadStateMissing(t *testing.T) {
	_, err := LoadState(t.TempDir())
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestLoadStateCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName),
		[]byte("{not yaml"), 0o644))

	_, err := LoadState(dir)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotConfigured)
}

func TestLockStateSerializes(t *testing.T) {
	dir := t.TempDir()
	unlock, err := lockState(dir)
	require.NoError(t, err)
	unlock()

	unlock, err = lockState(dir)
	require.NoError(t, err)
	unlock()
}

func TestBeatDBCandidates(t *testing.T) {
	dir := t.TempDir()
	paths := BeatDBCandidates(dir)
	require.Len(t, paths, 5)

	want := []string{
		filepath.Join(dir, "celery-beat-schedule"),
		filepath.Join(dir, "celery-beat-schedule.db"),
		filepath.Join(dir, "celery-beat-schedule.dat"),
		filepath.Join(dir, "celery-beat-schedule.bak"),
		filepath.Join(dir, "celery-beat-schedule.dir"),
	}
	require.ElementsMatch(t, want, paths)
}

func TestBeatDBExists(t *testing.T) {
	dir := t.TempDir()
	require.False(t, BeatDBExists(dir))

	// The storage engine picks the suffix; any variant counts
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, CeleryBeatDBFilename+".dat"), []byte("x"), 0o644))
	require.True(t, BeatDBExists(dir))
}

func TestRegisterInstanceIdempotent(t *testing.T) {
	dir := t.TempDir()

	records, err := ListInstances(dir)
	require.NoError(t, err)
	require.Empty(t, records)

	rec := InstanceRecord{
		ConfigFile:   "/srv/galaxy/config/galaxy.yml",
		ConfigType:   DefaultAppName,
		InstanceName: DefaultInstanceName,
	}
	require.NoError(t, RegisterInstance(dir, rec))
	require.NoError(t, RegisterInstance(dir, rec))

	records, err = ListInstances(dir)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, rec, records[0])
}

func TestRegisterInstanceUpdatesExisting(t *testing.T) {
	dir := t.TempDir()
	rec := InstanceRecord{
		ConfigFile:   "/srv/galaxy/config/galaxy.yml",
		ConfigType:   DefaultAppName,
		InstanceName: DefaultInstanceName,
	}
	require.NoError(t, RegisterInstance(dir, rec))

	rec.InstanceName = "main"
	require.NoError(t, RegisterInstance(dir, rec))

	other := rec
	other.ConfigFile = "/srv/galaxy/config/staging.yml"
	other.InstanceName = "staging"
	require.NoError(t, RegisterInstance(dir, other))

	records, err := ListInstances(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "main", records[0].InstanceName)
	require.Equal(t, "staging", records[1].InstanceName)
}
