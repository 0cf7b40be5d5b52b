package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskapi/internal/apperr"
)

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// handleRegister creates an account and returns it with a token.
func (s *Server) handleRegister(c *gin.Context) {
	req, ok := s.bindCredentials(c)
	if !ok {
		return
	}

	session, err := s.svc.Auth.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, session)
}

// handleLogin exchanges credentials for a token.
func (s *Server) handleLogin(c *gin.Context) {
	req, ok := s.bindCredentials(c)
	if !ok {
		return
	}

	session, err := s.svc.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, session)
}

// handleMe returns the caller's account.
func (s *Server) handleMe(c *gin.Context) {
	user, err := s.svc.Auth.Me(c.Request.Context(), identityFrom(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"user": user})
}

// handleAdminCheck only answers callers that passed adminOnly.
func (s *Server) handleAdminCheck(c *gin.Context) {
	respondSuccess(c, http.StatusOK, gin.H{"message": "You are an admin"})
}

func (s *Server) bindCredentials(c *gin.Context) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.Wrap(apperr.BadRequest, "invalid JSON body", err))
		return req, false
	}
	if err := s.check(req); err != nil {
		s.respondError(c, err)
		return req, false
	}
	return req, true
}
