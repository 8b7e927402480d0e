package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
)

type registerRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if !s.bindJSON(c, &req) {
		return
	}

	user, err := s.accounts.Register(c.Request.Context(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if !s.bindJSON(c, &req) {
		return
	}

	session, user, err := s.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
		"user":       user,
	})
}

func (s *Server) logout(c *gin.Context) {
	if err := s.accounts.Logout(c.Request.Context(), c.GetString(tokenKey)); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) me(c *gin.Context) {
	user, err := store.GetUser(c.Request.Context(), s.db, identity(c).UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) listUsers(c *gin.Context) {
	page, pageSize := pageParams(c)

	result, err := store.ListUsers(c.Request.Context(), s.db, page, pageSize)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (s *Server) updateUserRole(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req roleRequest
	if !s.bindJSON(c, &req) {
		return
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		s.respondError(c, errBadRequest(err.Error()))
		return
	}

	user, err := store.UpdateUserRole(c.Request.Context(), s.db, id, role)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.logger.WithField("user_id", user.ID).WithField("role", user.Role).Info("role changed")
	c.JSON(http.StatusOK, user)
}
