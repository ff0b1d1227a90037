package handlers

import (
	"net/http"

	"knowte-api/internal/auth"
	"knowte-api/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRequest represents the register request payload
type RegisterRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	User      auth.Subject `json:"user"`
	Token     string       `json:"access_token"`
	TokenType string       `json:"token_type"`
	ExpiresIn int64        `json:"expires_in"`
}

type AuthHandler struct {
	identity *auth.LocalIdentity
}

func NewAuthHandler(identity *auth.LocalIdentity) *AuthHandler {
	return &AuthHandler{identity: identity}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request. Email and password are required.")
		return
	}

	if _, err := h.identity.RegisterCredential(req.Email, req.Password, req.DisplayName); err != nil {
		respondError(c, err)
		return
	}
	h.issue(c, http.StatusCreated, req.Email, req.Password)
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request. Email and password are required.")
		return
	}
	h.issue(c, http.StatusOK, req.Email, req.Password)
}

func (h *AuthHandler) issue(c *gin.Context, status int, email, password string) {
	subject, err := h.identity.Authenticate(email, password)
	if err != nil {
		respondError(c, err)
		return
	}
	token, err := h.identity.IssueToken(subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, AuthResponse{
		User:      subject,
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int64(h.identity.Tokens().TTL().Seconds()),
	})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"id":    c.GetString(middleware.SubjectIDKey),
		"email": c.GetString(middleware.EmailKey),
	})
}
