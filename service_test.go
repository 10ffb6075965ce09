package gravity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func validServices() []Service {
	return []Service{
		{
			Name:    "gunicorn",
			Kind:    KindWeb,
			Command: []string{"gunicorn", "app"},
			Readiness: ReadinessSpec{
				Kind: ReadinessHTTP,
				URL:  "http://localhost:8080/api/version",
			},
		},
		{Name: "celery", Kind: KindWorker, Command: []string{"celery", "worker"}},
		{Name: "celery-beat", Kind: KindScheduler, Command: []string{"celery", "beat"}},
	}
}

func TestNewRegistryValid(t *testing.T) {
	reg, err := NewRegistry(validServices())
	require.NoError(t, err)
	require.Equal(t, []string{"gunicorn", "celery", "celery-beat"}, reg.Names())
}

func TestNewRegistryRejectsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		services []Service
	}{
		{
			name:     "unnamed service",
			services: []Service{{Command: []string{"true"}}},
		},
		{
			name: "duplicate name",
			services: []Service{
				{Name: "celery", Command: []string{"celery", "worker"}},
				{Name: "celery", Command: []string{"celery", "beat"}},
			},
		},
		{
			name:     "empty command",
			services: []Service{{Name: "celery"}},
		},
		{
			name: "two web services",
			services: []Service{
				{Name: "a", Kind: KindWeb, Command: []string{"a"}},
				{Name: "b", Kind: KindWeb, Command: []string{"b"}},
			},
		},
		{
			name: "http readiness without url",
			services: []Service{
				{Name: "a", Command: []string{"a"}, Readiness: ReadinessSpec{Kind: ReadinessHTTP}},
			},
		},
		{
			name: "log readiness without marker",
			services: []Service{
				{Name: "a", Command: []string{"a"}, Readiness: ReadinessSpec{Kind: ReadinessLogMarker}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.services)
			require.Error(t, err)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(validServices())
	require.NoError(t, err)

	svc, err := reg.Service("celery-beat")
	require.NoError(t, err)
	require.Equal(t, KindScheduler, svc.Kind)

	_, err = reg.Service("nonexistent")
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func TestRegistryServicesIsACopy(t *testing.T) {
	reg, err := NewRegistry(validServices())
	require.NoError(t, err)

	services := reg.Services()
	services[0].Name = "mutated"

	svc, err := reg.Service("gunicorn")
	require.NoError(t, err)
	require.Equal(t, "gunicorn", svc.Name)
}

func TestServiceKindString(t *testing.T) {
	tests := []struct {
		kind ServiceKind
		want string
	}{
		{KindWeb, "web"},
		{KindWorker, "worker"},
		{KindScheduler, "scheduler"},
		{KindProxy, "proxy"},
		{KindReport, "report"},
		{KindUpload, "upload"},
		{ServiceKind(99), "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.kind.String())
	}
}

func TestEnvStringSortedAndQuoted(t *testing.T) {
	require.Equal(t, "", envString(nil))

	env := map[string]string{
		"VIRTUAL_ENV": "/srv/galaxy/venv",
		"PATH":        "/srv/galaxy/venv/bin:/usr/bin",
	}
	require.Equal(t,
		`PATH="/srv/galaxy/venv/bin:/usr/bin",VIRTUAL_ENV="/srv/galaxy/venv"`,
		envString(env))
}
