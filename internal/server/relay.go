package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hyperops/ecopay-chat/internal/completion"
	"github.com/hyperops/ecopay-chat/internal/models"
	"go.uber.org/zap"
)

// chat relays one user message to the completion API and answers with the
// model's reply. Every branch writes exactly one JSON body.
func (s *Server) chat(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", http.MethodPost)
		c.JSON(http.StatusMethodNotAllowed, models.ErrorBody{Error: models.ErrMethodNotAllowed})
		return
	}

	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, models.ErrorBody{Error: models.ErrMessageRequired})
		return
	}

	apiKey := s.apiKey()
	if apiKey == "" {
		s.logger.Warn("Upstream API key is not configured",
			zap.String("env", s.cfg.Upstream.APIKeyEnv),
			zap.String("request_id", requestID(c)))
		c.JSON(http.StatusInternalServerError, models.ErrorBody{Error: models.ErrMissingAPIKey})
		return
	}

	reply, err := s.completer.Complete(c.Request.Context(), &completion.Request{
		APIKey:      apiKey,
		Model:       s.cfg.Defaults.Model,
		Messages:    s.prompt.Build(req.Message),
		Temperature: s.cfg.Defaults.Temperature,
		MaxTokens:   s.cfg.Defaults.MaxTokens,
	})
	if err != nil {
		s.writeCompletionError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ChatReply{Reply: reply})
}

func (s *Server) writeCompletionError(c *gin.Context, err error) {
	var upErr *completion.UpstreamError
	if errors.As(err, &upErr) {
		s.logger.Error("Completion API returned an error",
			zap.Int("status", upErr.StatusCode),
			zap.String("payload", upErr.Payload),
			zap.String("request_id", requestID(c)))

		msg := upErr.Message
		if msg == "" {
			msg = models.ErrUpstreamFallback
		}
		c.JSON(upErr.StatusCode, models.ErrorBody{Error: msg})
		return
	}

	s.logger.Error("Chat relay failed",
		zap.Error(err),
		zap.String("request_id", requestID(c)))
	c.JSON(http.StatusInternalServerError, models.ErrorBody{Error: models.ErrInternal})
}
