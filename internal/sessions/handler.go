package sessions

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/blindtest-party/backend/internal/auth"
	"github.com/blindtest-party/backend/internal/export"
	"github.com/blindtest-party/backend/internal/game"
	"github.com/blindtest-party/backend/internal/middleware"
	"github.com/blindtest-party/backend/internal/playlist"
	"github.com/blindtest-party/backend/pkg/response"
	"github.com/blindtest-party/backend/pkg/storage"
)

const (
	qrSize          = 320
	maxPlaylistSize = 8 << 20
)

// TokenIssuer issues session tokens.
type TokenIssuer interface {
	GenerateHost(sessionCode string) (string, error)
	GeneratePlayer(sessionCode, playerID string) (string, error)
}

// PhotoSigner presigns player photo uploads.
type PhotoSigner interface {
	PresignUpload(ctx context.Context, key, contentType string) (storage.PresignedUpload, error)
}

// Handler serves the session HTTP API.
type Handler struct {
	manager *Manager
	tokens  TokenIssuer
	photos  PhotoSigner
	joinURL string
	logger  *zap.Logger
}

// NewHandler creates a sessions handler. photos may be nil when no bucket is
// configured. joinBaseURL is the buzzer page encoded in join QR codes.
func NewHandler(manager *Manager, tokens TokenIssuer, photos PhotoSigner, joinBaseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager: manager,
		tokens:  tokens,
		photos:  photos,
		joinURL: strings.TrimRight(joinBaseURL, "/"),
		logger:  logger,
	}
}

// createRequest is the body for POST /sessions.
type createRequest struct {
	Mode   string       `json:"mode"`
	Source string       `json:"source"`
	Tracks []game.Track `json:"tracks"`
}

type createResponse struct {
	Code      string        `json:"code"`
	HostToken string        `json:"hostToken"`
	JoinURL   string        `json:"joinUrl"`
	Session   game.Snapshot `json:"session"`
}

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	mode, err := game.ParseMode(req.Mode)
	if err != nil {
		writeError(c, err)
		return
	}
	source := game.Source(req.Source)
	if source == "" {
		source = game.SourceSpotifyAuto
	}
	snap, err := h.manager.Create(c.Request.Context(), CreateRequest{Mode: mode, Source: source, Tracks: req.Tracks})
	if err != nil {
		h.fail(c, "create session", err)
		return
	}
	token, err := h.tokens.GenerateHost(snap.Code)
	if err != nil {
		h.logger.Error("issue host token", zap.String("session_code", snap.Code), zap.Error(err))
		response.Internal(c, "failed to issue token")
		return
	}
	response.Created(c, createResponse{Code: snap.Code, HostToken: token, JoinURL: h.joinLink(snap.Code), Session: snap})
}

// Get handles GET /sessions/:code. Unrevealed answers are hidden.
func (h *Handler) Get(c *gin.Context) {
	snap, err := h.manager.Snapshot(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, "get session", err)
		return
	}
	response.OK(c, snap.Public())
}

// QR handles GET /sessions/:code/qr.png.
func (h *Handler) QR(c *gin.Context) {
	s, err := h.manager.Get(c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	png, err := qrcode.Encode(h.joinLink(s.Code()), qrcode.Medium, qrSize)
	if err != nil {
		h.logger.Error("qr generation failed", zap.String("session_code", s.Code()), zap.Error(err))
		response.Internal(c, "qr generation failed")
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) joinLink(code string) string {
	return h.joinURL + "/join?code=" + url.QueryEscape(code)
}

// Export handles GET /sessions/:code/export.xlsx (host).
func (h *Handler) Export(c *gin.Context) {
	snap, err := h.manager.Snapshot(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, "export session", err)
		return
	}
	data, err := export.Bytes(snap)
	if err != nil {
		h.logger.Error("build results workbook", zap.String("session_code", snap.Code), zap.Error(err))
		response.Internal(c, "failed to build workbook")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="blindtest-`+snap.Code+`.xlsx"`)
	c.Data(http.StatusOK, storage.ContentTypeXLSX, data)
}

// UploadPlaylist handles POST /sessions/:code/playlist (host, multipart "file").
func (h *Handler) UploadPlaylist(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPlaylistSize)
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing playlist file")
		return
	}
	file, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "unreadable playlist file")
		return
	}
	defer file.Close()
	tracks, err := playlist.ParseXLSX(file)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid_playlist", err.Error())
		return
	}
	snap, err := h.manager.SetPlaylist(c.Request.Context(), c.Param("code"), tracks)
	if err != nil {
		h.fail(c, "set playlist", err)
		return
	}
	response.OK(c, gin.H{"tracks": len(snap.Tracks), "session": snap})
}

type joinRequest struct {
	Name     string `json:"name"`
	Team     string `json:"team"`
	PlayerID string `json:"playerId"`
	PhotoURL string `json:"photoUrl"`
}

// Join handles POST /sessions/:code/players. A playerId is honoured only with
// that player's token for this session; otherwise a fresh ID is minted.
func (h *Handler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var team game.TeamID
	if req.Team != "" {
		t, err := game.ParseTeam(req.Team)
		if err != nil {
			writeError(c, err)
			return
		}
		team = t
	}
	code := c.Param("code")
	p, err := h.manager.Join(c.Request.Context(), code, game.JoinRequest{
		ID:       rejoinID(c, code, req.PlayerID),
		Name:     req.Name,
		Team:     team,
		PhotoURL: req.PhotoURL,
	})
	if err != nil {
		h.fail(c, "join session", err)
		return
	}
	norm, _ := game.NormalizeCode(code)
	token, err := h.tokens.GeneratePlayer(norm, string(p.ID))
	if err != nil {
		response.Internal(c, "failed to issue token")
		return
	}
	response.Created(c, gin.H{"player": p, "token": token})
}

func rejoinID(c *gin.Context, code, requested string) game.PlayerID {
	claims := middleware.Claims(c)
	if requested == "" || claims == nil || claims.Role != auth.RolePlayer {
		return ""
	}
	if claims.PlayerID != requested || !strings.EqualFold(claims.SessionCode, strings.TrimSpace(code)) {
		return ""
	}
	return game.PlayerID(requested)
}

// Me handles GET /sessions/:code/players/me.
func (h *Handler) Me(c *gin.Context) {
	v, err := h.manager.PlayerView(c.Param("code"), playerID(c))
	if err != nil {
		h.fail(c, "player view", err)
		return
	}
	response.OK(c, v)
}

type updatePlayerRequest struct {
	Team     string `json:"team"`
	PhotoURL string `json:"photoUrl"`
}

// UpdateMe handles PATCH /sessions/:code/players/me (team change, photo).
func (h *Handler) UpdateMe(c *gin.Context) {
	var req updatePlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Team == "" && req.PhotoURL == "" {
		response.BadRequest(c, "nothing to update")
		return
	}
	ctx, code, id := c.Request.Context(), c.Param("code"), playerID(c)
	var (
		p   game.Player
		err error
	)
	if req.Team != "" {
		team, perr := game.ParseTeam(req.Team)
		if perr != nil {
			writeError(c, perr)
			return
		}
		if p, err = h.manager.ChangeTeam(ctx, code, id, team); err != nil {
			h.fail(c, "change team", err)
			return
		}
	}
	if req.PhotoURL != "" {
		if p, err = h.manager.SetPhoto(ctx, code, id, req.PhotoURL); err != nil {
			h.fail(c, "set photo", err)
			return
		}
	}
	response.OK(c, p)
}

type photoURLRequest struct {
	ContentType string `json:"contentType" binding:"required"`
}

// PhotoURL handles POST /sessions/:code/players/me/photo-url.
func (h *Handler) PhotoURL(c *gin.Context) {
	if h.photos == nil {
		response.ServiceUnavailable(c, "photo storage is not configured")
		return
	}
	var req photoURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "contentType required")
		return
	}
	ext, ok := storage.PhotoExtension(req.ContentType)
	if !ok {
		response.BadRequest(c, "unsupported photo type")
		return
	}
	s, err := h.manager.Get(c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	up, err := h.photos.PresignUpload(c.Request.Context(), storage.PhotoKey(s.Code(), string(playerID(c)), ext), req.ContentType)
	if err != nil {
		h.logger.Error("presign photo upload", zap.String("session_code", s.Code()), zap.Error(err))
		response.BadGateway(c, "failed to presign upload")
		return
	}
	response.OK(c, up)
}

// Buzz handles POST /sessions/:code/buzz (player).
func (h *Handler) Buzz(c *gin.Context) {
	ev, err := h.manager.Buzz(c.Request.Context(), c.Param("code"), playerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, ev)
}

type answerRequest struct {
	Label string `json:"label" binding:"required"`
}

// Answer handles POST /sessions/:code/answers (player, quiz mode).
func (h *Handler) Answer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "label required")
		return
	}
	a, err := h.manager.SubmitAnswer(c.Request.Context(), c.Param("code"), playerID(c), req.Label)
	if err != nil {
		h.fail(c, "submit answer", err)
		return
	}
	response.Created(c, a)
}

// Play handles POST /sessions/:code/play (host).
func (h *Handler) Play(c *gin.Context) { h.snapshotOp(c, "play", h.manager.Play) }

// Pause handles POST /sessions/:code/pause (host).
func (h *Handler) Pause(c *gin.Context) { h.snapshotOp(c, "pause", h.manager.Pause) }

// Next handles POST /sessions/:code/next (host).
func (h *Handler) Next(c *gin.Context) { h.snapshotOp(c, "next", h.manager.Next) }

// Prev handles POST /sessions/:code/prev (host).
func (h *Handler) Prev(c *gin.Context) { h.snapshotOp(c, "prev", h.manager.Prev) }

// End handles DELETE /sessions/:code (host).
func (h *Handler) End(c *gin.Context) { h.snapshotOp(c, "end", h.manager.End) }

// GoTo handles POST /sessions/:code/tracks/:index (zero-based).
func (h *Handler) GoTo(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.BadRequest(c, "track index must be a number")
		return
	}
	snap, err := h.manager.GoTo(c.Request.Context(), c.Param("code"), index)
	if err != nil {
		h.fail(c, "goto", err)
		return
	}
	response.OK(c, snap)
}

func (h *Handler) snapshotOp(c *gin.Context, op string, fn func(context.Context, string) (game.Snapshot, error)) {
	snap, err := fn(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, op, err)
		return
	}
	response.OK(c, snap)
}

// Reveal handles POST /sessions/:code/reveal (host).
func (h *Handler) Reveal(c *gin.Context) {
	res, err := h.manager.Reveal(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, "reveal", err)
		return
	}
	response.OK(c, gin.H{
		"trackIndex":  res.TrackIndex,
		"track":       res.Track,
		"question":    res.Question,
		"answers":     res.Answers,
		"leaderboard": res.Leaderboard,
	})
}

type judgeRequest struct {
	Correct *bool `json:"correct" binding:"required"`
}

// Judge handles POST /sessions/:code/judge (host).
func (h *Handler) Judge(c *gin.Context) {
	var req judgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "correct required")
		return
	}
	ev, err := h.manager.Judge(c.Request.Context(), c.Param("code"), *req.Correct)
	if err != nil {
		h.fail(c, "judge", err)
		return
	}
	response.OK(c, ev)
}

// CancelBuzz handles POST /sessions/:code/cancel-buzz (host).
func (h *Handler) CancelBuzz(c *gin.Context) {
	ev, err := h.manager.CancelBuzz(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, "cancel buzz", err)
		return
	}
	response.OK(c, ev)
}

type scoreRequest struct {
	Team  string `json:"team" binding:"required"`
	Delta int    `json:"delta"`
}

// AdjustScore handles POST /sessions/:code/scores (host).
func (h *Handler) AdjustScore(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "team required")
		return
	}
	team, err := game.ParseTeam(req.Team)
	if err != nil {
		writeError(c, err)
		return
	}
	scores, err := h.manager.AdjustScore(c.Request.Context(), c.Param("code"), team, req.Delta)
	if err != nil {
		h.fail(c, "adjust score", err)
		return
	}
	response.OK(c, scores)
}

// fail writes err and logs it when it is not a domain error.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	if status, _ := classify(err); status == http.StatusInternalServerError {
		h.logger.Error(op, zap.String("session_code", c.Param("code")), zap.Error(err))
	}
	writeError(c, err)
}

func playerID(c *gin.Context) game.PlayerID {
	if claims := middleware.Claims(c); claims != nil {
		return game.PlayerID(claims.PlayerID)
	}
	return ""
}

// Routes holds the middleware of the session API.
type Routes struct {
	Tokens    middleware.TokenValidator
	JoinLimit gin.HandlerFunc
	BuzzLimit gin.HandlerFunc
}

// Register mounts every session route on r.
func (h *Handler) Register(r gin.IRouter, rt Routes) {
	pass := func(c *gin.Context) { c.Next() }
	if rt.JoinLimit == nil {
		rt.JoinLimit = pass
	}
	if rt.BuzzLimit == nil {
		rt.BuzzLimit = pass
	}

	r.POST("/sessions", h.Create)
	r.GET("/sessions/:code", h.Get)
	r.GET("/sessions/:code/qr.png", h.QR)
	r.POST("/sessions/:code/players", rt.JoinLimit, middleware.OptionalJWT(rt.Tokens), h.Join)

	authed := []gin.HandlerFunc{middleware.JWT(rt.Tokens), middleware.RequireSession()}

	host := r.Group("/sessions/:code", append(authed, middleware.RequireRole(auth.RoleHost))...)
	{
		host.GET("/export.xlsx", h.Export)
		host.POST("/playlist", h.UploadPlaylist)
		host.POST("/play", h.Play)
		host.POST("/pause", h.Pause)
		host.POST("/next", h.Next)
		host.POST("/prev", h.Prev)
		host.POST("/tracks/:index", h.GoTo)
		host.POST("/reveal", h.Reveal)
		host.POST("/judge", h.Judge)
		host.POST("/cancel-buzz", h.CancelBuzz)
		host.POST("/scores", h.AdjustScore)
		host.DELETE("", h.End)
	}

	player := r.Group("/sessions/:code", append(authed, middleware.RequireRole(auth.RolePlayer))...)
	{
		player.POST("/buzz", rt.BuzzLimit, h.Buzz)
		player.POST("/answers", h.Answer)
		player.GET("/players/me", h.Me)
		player.PATCH("/players/me", h.UpdateMe)
		player.POST("/players/me/photo-url", h.PhotoURL)
	}
}
