package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/krancour/hoist/internal/common/file"
	"github.com/krancour/hoist/internal/common/logging"
	"github.com/krancour/hoist/internal/version"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server is an interface for the component that responds to HTTP API requests
type Server interface {
	http.Handler
	// ListenAndServe causes the API server to start serving HTTP requests. It
	// blocks until the context is canceled or an error occurs.
	ListenAndServe(ctx context.Context) error
}

type server struct {
	*BaseEndpoints // The server itself exposes health check endpoints
	config         Config
	handler        http.Handler
}

// NewServer returns a REST API server serving the provided Endpoints.
func NewServer(
	config Config,
	endpoints []Endpoints,
	logger *logrus.Entry,
) Server {
	if logger == nil {
		logger = logging.Discard()
	}
	router := mux.NewRouter()
	router.StrictSlash(true)

	for _, eps := range endpoints {
		eps.Register(router)
	}

	s := &server{
		BaseEndpoints: &BaseEndpoints{Logger: logger},
		config:        config,
		handler: cors.New(
			cors.Options{
				AllowedMethods: []string{"GET", "POST"},
			},
		).Handler(router),
	}

	// Health check
	router.HandleFunc(
		"/healthz",
		s.checkHealth, // No filters applied to this request
	).Methods(http.MethodGet)

	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *server) ListenAndServe(ctx context.Context) error {
	useTLS := s.config.TLSEnabled &&
		file.Exists(s.config.TLSCertPath) &&
		file.Exists(s.config.TLSKeyPath)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: h2c.NewHandler(s.handler, &http2.Server{}),
	}
	if useTLS {
		srv.Handler = s.handler
	}
	errCh := make(chan error, 1)
	go func() {
		if useTLS {
			s.Logger.Infof(
				"API server is listening with TLS enabled on 0.0.0.0:%d",
				s.config.Port,
			)
			errCh <- srv.ListenAndServeTLS(s.config.TLSCertPath, s.config.TLSKeyPath)
			return
		}
		s.Logger.Infof(
			"API server is listening without TLS on 0.0.0.0:%d",
			s.config.Port,
		)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			10*time.Second,
		)
		defer cancel()
		srv.Shutdown(shutdownCtx) // nolint: errcheck
		return ctx.Err()
	}
}

func (s *server) checkHealth(
	w http.ResponseWriter,
	r *http.Request,
) {
	s.ServeRequest(
		InboundRequest{
			W: w,
			R: r,
			EndpointLogic: func() (interface{}, error) {
				return struct {
					Version string `json:"version"`
					Commit  string `json:"commit,omitempty"`
				}{
					Version: version.Version(),
					Commit:  version.Commit(),
				}, nil
			},
			SuccessCode: http.StatusOK,
		},
	)
}
