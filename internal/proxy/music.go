package proxy

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/blindtest-party/backend/config"
	"github.com/blindtest-party/backend/pkg/response"
)

// Music performs the OAuth code exchange and token refresh of the
// music-streaming account, keeping the client secret server side.
type Music struct {
	oauth  *oauth2.Config
	logger *zap.Logger
}

// NewMusic builds the OAuth client from cfg.
func NewMusic(cfg config.MusicConfig, logger *zap.Logger) *Music {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Music{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		logger: logger,
	}
}

// Enabled reports whether a client is configured.
func (m *Music) Enabled() bool {
	return m != nil && m.oauth.ClientID != "" && m.oauth.Endpoint.TokenURL != ""
}

// tokenResponse is what the client stores. ExpiresIn is in seconds.
type tokenResponse struct {
	AccessToken  string    `json:"accessToken"`
	TokenType    string    `json:"tokenType"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresIn    int64     `json:"expiresIn"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Scope        string    `json:"scope,omitempty"`
}

func toResponse(tok *oauth2.Token) tokenResponse {
	out := tokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out
}

type authorizeRequest struct {
	State string `form:"state" binding:"required"`
}

// Authorize handles GET /music/authorize?state=... and returns the consent URL.
func (m *Music) Authorize(c *gin.Context) {
	if !m.Enabled() {
		response.ServiceUnavailable(c, "music account not configured")
		return
	}
	var req authorizeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "state required")
		return
	}
	response.OK(c, gin.H{"url": m.oauth.AuthCodeURL(req.State)})
}

type exchangeRequest struct {
	Code        string `json:"code" binding:"required"`
	RedirectURI string `json:"redirectUri"`
}

// Token handles POST /music/token: authorization code for tokens.
func (m *Music) Token(c *gin.Context) {
	if !m.Enabled() {
		response.ServiceUnavailable(c, "music account not configured")
		return
	}
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "code required")
		return
	}
	var opts []oauth2.AuthCodeOption
	if req.RedirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", req.RedirectURI))
	}
	tok, err := m.oauth.Exchange(c.Request.Context(), req.Code, opts...)
	if err != nil {
		m.fail(c, "music code exchange", err)
		return
	}
	response.OK(c, toResponse(tok))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Refresh handles POST /music/refresh. The refresh token is kept when the
// provider does not rotate it.
func (m *Music) Refresh(c *gin.Context) {
	if !m.Enabled() {
		response.ServiceUnavailable(c, "music account not configured")
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "refreshToken required")
		return
	}
	src := m.oauth.TokenSource(c.Request.Context(), &oauth2.Token{RefreshToken: req.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		m.fail(c, "music token refresh", err)
		return
	}
	response.OK(c, toResponse(tok))
}

// fail maps provider rejections to 400 and everything else to 502.
func (m *Music) fail(c *gin.Context, op string, err error) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
		code := re.ErrorCode
		if code == "" {
			code = "oauth_rejected"
		}
		m.logger.Warn(op+" rejected", zap.String("error_code", code))
		response.Fail(c, http.StatusBadRequest, code, "authorization rejected by provider")
		return
	}
	m.logger.Error(op+" failed", zap.Error(err))
	response.BadGateway(c, "music provider unreachable")
}

// Register mounts the music routes. mw runs before each handler.
func (m *Music) Register(r gin.IRouter, mw ...gin.HandlerFunc) {
	g := r.Group("/music", mw...)
	g.GET("/authorize", m.Authorize)
	g.POST("/token", m.Token)
	g.POST("/refresh", m.Refresh)
}
