// Package api exposes the simulation pipeline over HTTP.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "opinionsim/internal/common/errors"
	"opinionsim/internal/common/logger"
	"opinionsim/internal/common/observability"
	"opinionsim/internal/models"
	"opinionsim/internal/simulation"
)

type topicRequest struct {
	Topic string `json:"topic"`
}

type panelRequest struct {
	Topic    string           `json:"topic"`
	Personas []models.Persona `json:"personas"`
}

type chatRequest struct {
	Topic       string `json:"topic"`
	PersonaID   string `json:"personaId"`
	PersonaName string `json:"personaName"`
	UserMessage string `json:"userMessage"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server wires the simulation service into gin handlers.
type Server struct {
	svc *simulation.Service
	obs *observability.Observability
	log logger.Logger
}

func NewServer(svc *simulation.Service, obs *observability.Observability, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{svc: svc, obs: obs, log: log}
}

// Router builds the HTTP routing table. Health and metrics endpoints sit
// outside the rate limit; everything under /api is limited.
func (s *Server) Router(limiter Limiter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogMiddleware(s.log))
	if s.obs != nil {
		router.Use(observabilityMiddleware(s.obs))
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	group := router.Group("/api")
	if limiter != nil {
		group.Use(rateLimitMiddleware(limiter, s.log))
	}
	group.POST("/generate-personas", s.handleGeneratePersonas)
	group.POST("/confirm-personas", s.handleConfirmPersonas)
	group.POST("/simulate", s.handleSimulate)
	group.POST("/update-personas-and-simulate", s.handleUpdatePersonasAndSimulate)
	group.POST("/persona-chat", s.handlePersonaChat)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleGeneratePersonas(c *gin.Context) {
	var req topicRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := s.svc.GeneratePersonas(c.Request.Context(), req.Topic)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"personas": result.Personas,
		"prompt":   result.Topic,
		"cached":   result.Cached,
	})
}

func (s *Server) handleConfirmPersonas(c *gin.Context) {
	var req panelRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := s.svc.ConfirmPersonas(c.Request.Context(), req.Topic, req.Personas)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Personas confirmed",
		"personas": result.Personas,
	})
}

func (s *Server) handleSimulate(c *gin.Context) {
	var req panelRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := s.svc.Simulate(c.Request.Context(), req.Topic, req.Personas)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleUpdatePersonasAndSimulate(c *gin.Context) {
	var req panelRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := s.svc.UpdatePersonasAndSimulate(c.Request.Context(), req.Topic, req.Personas)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handlePersonaChat(c *gin.Context) {
	var req chatRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := s.svc.PersonaChat(c.Request.Context(), req.Topic, req.PersonaName, req.UserMessage)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func bindJSON(c *gin.Context, target interface{}) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		writeError(c, apperrors.NewValidationFailedError(
			[]string{"request body must be valid JSON"}))
		return false
	}
	return true
}

// writeError maps a pipeline error to its HTTP shape. Internal detail such
// as raw model output stays in the logs.
func writeError(c *gin.Context, err error) {
	stdErr := apperrors.AsStandardError(err)
	c.JSON(apperrors.HTTPStatus(stdErr.Code), errorResponse{
		Error: apperrors.ClientMessage(stdErr),
		Code:  string(stdErr.Code),
	})
}
