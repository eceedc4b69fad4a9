package apisurface

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"doge-flow-trader/internal/auth"
)

func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Operator != s.operator.OperatorName || !s.passwords.VerifyPassword(req.Password, s.operator.OperatorPasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidCredentials.Code, "message": auth.ErrInvalidCredentials.Message})
		return
	}

	pair, err := s.jwtManager.GenerateTokenPair(auth.OperatorClaims{Operator: req.Operator})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.controller.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleStop(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator requested stop"
	}
	if err := s.controller.Stop(req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleTriggerAnalysis(c *gin.Context) {
	if err := s.controller.TriggerAnalysis(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "analysis triggered"})
}
