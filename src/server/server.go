package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"age-classifier/src/config"
	"age-classifier/src/db"
	"age-classifier/src/metrics"
	"age-classifier/src/records"
	"age-classifier/src/upstream"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Classifier sends an image to a model endpoint.
type Classifier interface {
	Classify(ctx context.Context, imageURL, prompt string, requestInfo map[string]interface{}) upstream.Outcome
}

// ImageChat asks a chat model a question about an image.
type ImageChat interface {
	RunWithImage(ctx context.Context, imageURL, systemPrompt, question string) (string, error)
}

// Recorder persists a classification attempt.
type Recorder interface {
	Record(ctx context.Context, e records.Entry) (int64, bool)
}

// PoolStater reports the connection pool lifecycle state.
type PoolStater interface {
	State() db.State
}

// appContext is handed to every handler.
type appContext struct {
	config     config.Config
	logger     zerolog.Logger
	classifier Classifier
	chat       ImageChat
	recorder   Recorder
	pool       PoolStater
	metrics    *metrics.Metrics
	validate   *validator.Validate
}

// ErrorRes is a JSON response containing an error message from the API.
type ErrorRes struct {
	Detail string `json:"detail"`
}

// Deps overrides the collaborators New would otherwise build from the config.
type Deps struct {
	Opener     db.Opener            // Opener defaults to a postgres pool.
	HTTPClient *http.Client         // HTTPClient is used for every upstream call when set.
	Registry   *prometheus.Registry // Registry defaults to a fresh registry.
}

// Server is the age classification API.
type Server struct {
	ctx     appContext
	manager *db.Manager
	router  *mux.Router
}

// New wires the dispatcher, chat client, pool manager and recorder. The
// connection pool is not opened until the first record is written.
func New(cfg config.Config, logger zerolog.Logger, deps Deps) (*Server, error) {
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	dispatchOpts := []upstream.Option{upstream.WithMetrics(m)}
	var chatOpts []upstream.ChatOption
	if deps.HTTPClient != nil {
		dispatchOpts = append(dispatchOpts, upstream.WithHTTPClient(deps.HTTPClient))
		chatOpts = append(chatOpts, upstream.WithChatHTTPClient(deps.HTTPClient))
	}

	dispatcher, err := upstream.NewDispatcher(cfg, logger, dispatchOpts...)
	if err != nil {
		return nil, err
	}

	opener := deps.Opener
	if opener == nil {
		opener = db.NewPostgresOpener(cfg, logger)
	}
	manager := db.NewManager(opener, cfg.DBInitWait, logger, db.WithManagerMetrics(m))

	validate, err := newValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{
		ctx: appContext{
			config:     cfg,
			logger:     logger,
			classifier: dispatcher,
			chat:       upstream.NewChatClient(cfg, logger, chatOpts...),
			recorder:   records.NewRecorder(manager, logger, m),
			pool:       manager,
			metrics:    m,
			validate:   validate,
		},
		manager: manager,
	}
	s.router = newRouter(s.ctx, reg)

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.ctx.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.ctx.logger.Info().Msgf("Web server now listening on %s", srv.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.ctx.logger.Info().Msg("shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// Close releases the connection pool.
func (s *Server) Close() error {
	return s.manager.CloseAll()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(logger *zerolog.Logger, code int, message string, w http.ResponseWriter) {
	logger.Info().Int("code", code).Msg(message)
	writeJSON(w, code, ErrorRes{Detail: message})
}
