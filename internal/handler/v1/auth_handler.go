package v1

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dermatrack/api/config"
	"github.com/dermatrack/api/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
	cfg  config.JWTConfig
	log  *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, cfg config.JWTConfig, log *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, cfg: cfg, log: log}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	pair, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	// Browser clients carry the session in an HttpOnly cookie; API clients
	// can use the bearer token from the response body instead.
	c.SetCookie(
		h.cfg.CookieName,
		pair.AccessToken,
		int(h.cfg.AccessTokenTTL.Seconds()),
		"/",
		"",
		h.cfg.CookieSecure,
		true,
	)

	respondOK(c, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}

	pair, err := h.auth.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, pair)
}
