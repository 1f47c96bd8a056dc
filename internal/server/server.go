package server

import (
	"github.com/gin-gonic/gin"
	"github.com/hyperops/ecopay-chat/internal/completion"
	"github.com/hyperops/ecopay-chat/internal/config"
	"github.com/hyperops/ecopay-chat/internal/prompt"
	"go.uber.org/zap"
)

// Server represents the chat relay server
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	router    *gin.Engine
	completer completion.Client
	prompt    prompt.Template
	apiKey    func() string
	limiter   *ipLimiter
}

// Option overrides a server dependency, mainly for tests.
type Option func(*Server)

// WithCompletionClient replaces the upstream completion client.
func WithCompletionClient(client completion.Client) Option {
	return func(s *Server) { s.completer = client }
}

// WithAPIKeyFunc replaces the upstream API key lookup.
func WithAPIKeyFunc(fn func() string) Option {
	return func(s *Server) { s.apiKey = fn }
}

// New creates a new server instance
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: gin.New(),
		prompt: prompt.New(cfg.Defaults.SystemPrompt),
		apiKey: cfg.Upstream.KeyFunc(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.completer == nil {
		s.completer = completion.NewOpenAIClient(
			completion.WithBaseURL(cfg.Upstream.BaseURL),
			completion.WithTimeout(cfg.Upstream.Timeout),
		)
	}

	if cfg.RateLimit.Enabled {
		s.limiter = newIPLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggerMiddleware())

	if s.cfg.Security.EnableCORS {
		s.router.Use(s.corsMiddleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ping", s.ping)

	// Method filtering happens inside the handler so every verb gets the JSON 405 body.
	chat := s.router.Group("/api")
	if s.limiter != nil {
		chat.Use(s.rateLimitMiddleware())
	}
	chat.Any("/chat", s.chat)

	// Any only covers the standard verbs; anything else (PROPFIND, ...) lands here.
	s.router.HandleMethodNotAllowed = true
	s.router.NoMethod(s.noMethod)
}

func (s *Server) noMethod(c *gin.Context) {
	if c.Request.URL.Path == "/api/chat" {
		s.chat(c)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}
