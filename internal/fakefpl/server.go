package fakefpl

import (
	"net/http"
	"strings"
	"sync"

	"github.com/okian/fplcache/pkg/logger"
)

// Upstream paths served by Server, relative to the API base.
const (
	PathBootstrap = "/bootstrap-static/"
	PathFixtures  = "/fixtures/"
)

// Server serves a Dataset over HTTP. Faults can be queued per path to make
// the next requests fail with a given status or body.
type Server struct {
	prefix string
	logger logger.Logger

	mu     sync.Mutex
	data   *Dataset
	faults map[string][]Fault
	hits   map[string]int
}

// Fault replaces one response.
type Fault struct {
	Status int
	Body   string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPrefix mounts the API under prefix, "/api" by default.
func WithPrefix(prefix string) ServerOption {
	return func(s *Server) {
		s.prefix = strings.TrimRight(prefix, "/")
	}
}

// WithServerLogger sets the request logger.
func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer returns a server for data.
func NewServer(data *Dataset, opts ...ServerOption) *Server {
	s := &Server{
		prefix: "/api",
		logger: logger.Get().Named("fakefpl"),
		data:   data,
		faults: make(map[string][]Fault),
		hits:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetData swaps the served dataset.
func (s *Server) SetData(data *Dataset) {
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
}

// Fail queues faults for path (PathBootstrap or PathFixtures). Each request
// consumes one.
func (s *Server) Fail(path string, faults ...Fault) {
	s.mu.Lock()
	s.faults[path] = append(s.faults[path], faults...)
	s.mu.Unlock()
}

// Hits reports how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, s.prefix)
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	s.mu.Lock()
	s.hits[path]++
	var fault *Fault
	if q := s.faults[path]; len(q) > 0 {
		f := q[0]
		fault = &f
		s.faults[path] = q[1:]
	}
	data := s.data
	s.mu.Unlock()

	if fault != nil {
		s.logger.Debug(r.Context(), "injecting fault", logger.String("path", path), logger.Int("status", fault.Status))
		w.WriteHeader(fault.Status)
		_, _ = w.Write([]byte(fault.Body))
		return
	}

	var (
		body []byte
		err  error
	)
	switch path {
	case PathBootstrap:
		body, err = data.Bootstrap()
	case PathFixtures:
		body, err = data.FixturesDocument()
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error(r.Context(), "render document", logger.String("path", path), logger.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
