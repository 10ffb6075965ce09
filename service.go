package gravity

import (
	"fmt"
	"sort"
	"strings"
)

// ServiceKind identifies the role a service plays within an instance
type ServiceKind int

const (
	// KindWeb is the main application web process (gunicorn)
	KindWeb ServiceKind = iota
	// KindWorker is a background task worker (celery)
	KindWorker
	// KindScheduler is the periodic task scheduler (celery-beat)
	KindScheduler
	// KindProxy is the auxiliary interactive tools proxy (gx-it-proxy)
	KindProxy
	// KindReport is the optional reports web process
	KindReport
	// KindUpload is the resumable upload server (tusd)
	KindUpload
)

// ServiceKind string constants
const (
	kindWebStr       = "web"
	kindWorkerStr    = "worker"
	kindSchedulerStr = "scheduler"
	kindProxyStr     = "proxy"
	kindReportStr    = "report"
	kindUploadStr    = "upload"
	kindUnknownStr   = "unknown"
)

// String returns the string representation of ServiceKind
func (k ServiceKind) String() string {
	switch k {
	case KindWeb:
		return kindWebStr
	case KindWorker:
		return kindWorkerStr
	case KindScheduler:
		return kindSchedulerStr
	case KindProxy:
		return kindProxyStr
	case KindReport:
		return kindReportStr
	case KindUpload:
		return kindUploadStr
	default:
		return kindUnknownStr
	}
}

// ReadinessKind selects the strategy used to decide a started service is ready
type ReadinessKind int

const (
	// ReadinessNone disables readiness verification for a service
	ReadinessNone ReadinessKind = iota
	// ReadinessHTTP polls an HTTP endpoint until it answers 2xx
	ReadinessHTTP
	// ReadinessLogMarker polls the service log for a literal marker string
	ReadinessLogMarker
)

// ReadinessSpec describes how to verify a started service has become ready
type ReadinessSpec struct {
	// Kind selects the verification strategy
	Kind ReadinessKind
	// URL is the probe target for ReadinessHTTP
	URL string
	// Marker is the literal log substring for ReadinessLogMarker
	Marker string
	// TimeoutSeconds bounds the verification; 0 means DefaultStartupTimeout
	TimeoutSeconds int
}

// Service describes one supervised process of an instance. It is immutable
// once constructed for a given configuration generation.
type Service struct {
	// Name uniquely identifies the service within the instance
	Name string
	// Kind is the service's role
	Kind ServiceKind
	// Command is the invocation, argv style
	Command []string
	// Environment contains environment variable overrides
	Environment map[string]string
	// Readiness describes how to verify the service is ready after start
	Readiness ReadinessSpec
}

// Registry is an immutable, ordered description of the services that make
// up one application instance. It is a pure data holder constructed once
// per configuration load; validation happens at construction.
type Registry struct {
	services []Service
	byName   map[string]int
}

// NewRegistry validates the given services and returns a Registry.
// It fails with a ConfigError on duplicate names, more than one web
// service, empty commands, or readiness specs missing required fields.
func NewRegistry(services []Service) (*Registry, error) {
	byName := make(map[string]int, len(services))
	webCount := 0
	for i, svc := range services {
		if svc.Name == "" {
			return nil, &ConfigError{Field: "services", Err: fmt.Errorf("service %d has no name", i)}
		}
		if _, dup := byName[svc.Name]; dup {
			return nil, &ConfigError{Field: svc.Name, Err: fmt.Errorf("duplicate service name")}
		}
		if len(svc.Command) == 0 {
			return nil, &ConfigError{Field: svc.Name, Err: fmt.Errorf("service has no command")}
		}
		if svc.Kind == KindWeb {
			webCount++
			if webCount > 1 {
				return nil, &ConfigError{Field: svc.Name, Err: fmt.Errorf("more than one web service")}
			}
		}
		switch svc.Readiness.Kind {
		case ReadinessHTTP:
			if svc.Readiness.URL == "" {
				return nil, &ConfigError{Field: svc.Name, Err: fmt.Errorf("http readiness requires a url")}
			}
		case ReadinessLogMarker:
			if svc.Readiness.Marker == "" {
				return nil, &ConfigError{Field: svc.Name, Err: fmt.Errorf("log readiness requires a marker")}
			}
		}
		byName[svc.Name] = i
	}

	reg := &Registry{
		services: make([]Service, len(services)),
		byName:   byName,
	}
	copy(reg.services, services)
	return reg, nil
}

// Services returns the ordered service sequence
func (r *Registry) Services() []Service {
	out := make([]Service, len(r.services))
	copy(out, r.services)
	return out
}

// Service returns the named service, or ErrServiceNotFound
func (r *Registry) Service(name string) (Service, error) {
	i, ok := r.byName[name]
	if !ok {
		return Service{}, fmt.Errorf("%w: %q", ErrServiceNotFound, name)
	}
	return r.services[i], nil
}

// Names returns the ordered service names
func (r *Registry) Names() []string {
	names := make([]string, len(r.services))
	for i, svc := range r.services {
		names[i] = svc.Name
	}
	return names
}

// envString renders an environment map as a stable comma-separated list,
// keys sorted so generated artifacts are deterministic.
func envString(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, env[k]))
	}
	return strings.Join(parts, ",")
}
