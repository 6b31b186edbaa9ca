package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	http_middleware "github.com/benmeehan/display-agent/internal/middlewares/http"
	"github.com/benmeehan/display-agent/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UpdateRequester is what the local API may ask of the orchestrator. Requests
// are picked up by the run loop; handlers never run an update themselves.
type UpdateRequester interface {
	Status() models.UpdateStatus
	RequestCheck()
	RequestManualUpdate()
	ClearFailedVersion() error
}

// StatusServer is the local status and control API. The orchestrator stops
// it for the duration of an update.
type StatusServer struct {
	addr     string
	status   StatusSource
	updates  UpdateRequester
	verifier http_middleware.SignatureVerifier
	logger   zerolog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewStatusServer creates a stopped server. updates may be attached later
// with SetUpdates. verifier may be nil, in which case the control endpoints
// are unauthenticated.
func NewStatusServer(addr string, status StatusSource, updates UpdateRequester, verifier http_middleware.SignatureVerifier, logger zerolog.Logger) *StatusServer {
	return &StatusServer{
		addr:     addr,
		status:   status,
		updates:  updates,
		verifier: verifier,
		logger:   logger,
	}
}

// SetUpdates attaches the orchestrator after construction.
func (s *StatusServer) SetUpdates(updates UpdateRequester) {
	s.updates = updates
}

// Router builds the gin engine serving the API.
func (s *StatusServer) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), http_middleware.RequestLogger(s.logger))

	api := router.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/ota", s.getUpdateStatus)

	control := api.Group("/ota")
	if s.verifier != nil {
		control.Use(http_middleware.SignatureAuth(s.verifier, 5*time.Minute, s.logger))
	}
	control.POST("/check", s.requestCheck)
	control.POST("/update", s.requestUpdate)
	control.DELETE("/failed-version", s.clearFailedVersion)
	return router
}

func respondSuccess(c *gin.Context, code int, data any) {
	c.JSON(code, gin.H{"status": "success", "data": data})
}

func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"status": "error", "message": message})
}

func (s *StatusServer) getStatus(c *gin.Context) {
	respondSuccess(c, http.StatusOK, s.status.Report())
}

func (s *StatusServer) getUpdateStatus(c *gin.Context) {
	respondSuccess(c, http.StatusOK, s.updates.Status())
}

func (s *StatusServer) requestCheck(c *gin.Context) {
	s.updates.RequestCheck()
	respondSuccess(c, http.StatusAccepted, gin.H{"requested": "check"})
}

func (s *StatusServer) requestUpdate(c *gin.Context) {
	s.updates.RequestManualUpdate()
	respondSuccess(c, http.StatusAccepted, gin.H{"requested": "update"})
}

func (s *StatusServer) clearFailedVersion(c *gin.Context) {
	if err := s.updates.ClearFailedVersion(); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"failed_version": ""})
}

// Start begins serving. Starting a running server is a no-op.
func (s *StatusServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv = srv
	s.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Status server stopped unexpectedly")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Status server started")
	return nil
}

// Stop shuts the server down, waiting briefly for open requests.
func (s *StatusServer) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info().Msg("Status server stopped")
	return nil
}

func (s *StatusServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Addr returns the bound address while running.
func (s *StatusServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
