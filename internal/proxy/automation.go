package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blindtest-party/backend/config"
	"github.com/blindtest-party/backend/pkg/queue"
	"github.com/blindtest-party/backend/pkg/response"
)

const maxAutomationBody = 1 << 20

var (
	// ErrNotConfigured is returned when no automation backend is set.
	ErrNotConfigured = errors.New("automation backend not configured")
	// ErrEndpointNotAllowed is returned for endpoints outside the allow-list.
	ErrEndpointNotAllowed = errors.New("automation endpoint not allowed")
)

// Result is an upstream automation response.
type Result struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports whether the upstream accepted the call.
func (r Result) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Automation forwards JSON bodies to the workflow automation backend.
type Automation struct {
	baseURL     string
	headerName  string
	headerValue string
	allowed     map[string]struct{}
	client      *http.Client
	logger      *zap.Logger
}

// NewAutomation creates an automation client. A nil client uses a default
// one bounded by cfg.TimeoutSec.
func NewAutomation(cfg config.AutomationConfig, client *http.Client, logger *zap.Logger) *Automation {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		timeout := time.Duration(cfg.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedEndpoints))
	for _, e := range cfg.AllowedEndpoints {
		if e = strings.Trim(strings.TrimSpace(e), "/"); e != "" {
			allowed[e] = struct{}{}
		}
	}
	return &Automation{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		headerName:  cfg.AuthHeaderName,
		headerValue: cfg.AuthHeaderValue,
		allowed:     allowed,
		client:      client,
		logger:      logger,
	}
}

// Enabled reports whether a backend URL is configured.
func (a *Automation) Enabled() bool { return a != nil && a.baseURL != "" }

// Allowed reports whether endpoint is in the allow-list.
func (a *Automation) Allowed(endpoint string) bool {
	_, ok := a.allowed[endpoint]
	return ok
}

// Forward posts body to the named endpoint with the static auth header. A
// non-2xx upstream status is not an error; transport failures are.
func (a *Automation) Forward(ctx context.Context, endpoint string, body []byte) (Result, error) {
	if !a.Enabled() {
		return Result{}, ErrNotConfigured
	}
	endpoint = strings.Trim(endpoint, "/")
	if !a.Allowed(endpoint) {
		return Result{}, fmt.Errorf("%w: %q", ErrEndpointNotAllowed, endpoint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.headerName != "" && a.headerValue != "" {
		req.Header.Set(a.headerName, a.headerValue)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, maxAutomationBody))
	if err != nil {
		return Result{}, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return Result{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: out}, nil
}

// Deferrer queues automation calls for the background worker.
type Deferrer interface {
	EnqueueAutomation(ctx context.Context, payload queue.AutomationPayload) error
}

// AutomationHandler exposes POST /automation/:endpoint.
type AutomationHandler struct {
	automation *Automation
	deferrer   Deferrer
	logger     *zap.Logger
}

// NewAutomationHandler creates the automation proxy handler. A nil deferrer
// disables ?async=true delivery.
func NewAutomationHandler(automation *Automation, deferrer Deferrer, logger *zap.Logger) *AutomationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutomationHandler{automation: automation, deferrer: deferrer, logger: logger}
}

// Forward relays the request body and the upstream reply. With ?async=true
// the call is queued for the worker (retried, then dead-lettered) and 202 is
// returned at once.
func (h *AutomationHandler) Forward(c *gin.Context) {
	if !h.automation.Enabled() {
		response.ServiceUnavailable(c, "automation backend not configured")
		return
	}
	endpoint := c.Param("endpoint")
	if !h.automation.Allowed(endpoint) {
		response.Forbidden(c, "endpoint not allowed")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxAutomationBody))
	if err != nil {
		response.BadRequest(c, "request body too large")
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	if c.Query("async") == "true" {
		h.enqueue(c, endpoint, body)
		return
	}
	res, err := h.automation.Forward(c.Request.Context(), endpoint, body)
	if err != nil {
		h.logger.Error("automation forward failed", zap.String("endpoint", endpoint), zap.Error(err))
		response.BadGateway(c, "automation backend unreachable")
		return
	}
	if !res.OK() {
		h.logger.Warn("automation upstream error", zap.String("endpoint", endpoint), zap.Int("status", res.Status))
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(res.Status, contentType, res.Body)
}

func (h *AutomationHandler) enqueue(c *gin.Context, endpoint string, body []byte) {
	if h.deferrer == nil {
		response.ServiceUnavailable(c, "deferred delivery not available")
		return
	}
	if !json.Valid(body) {
		response.BadRequest(c, "body must be JSON")
		return
	}
	if err := h.deferrer.EnqueueAutomation(c.Request.Context(), queue.AutomationPayload{Endpoint: endpoint, Body: body}); err != nil {
		h.logger.Error("automation enqueue failed", zap.String("endpoint", endpoint), zap.Error(err))
		response.ServiceUnavailable(c, "job queue unavailable")
		return
	}
	response.Accepted(c, gin.H{"queued": true, "endpoint": endpoint})
}

// Register mounts the automation route. mw runs before the handler.
func (h *AutomationHandler) Register(r gin.IRouter, mw ...gin.HandlerFunc) {
	r.POST("/automation/:endpoint", append(mw, h.Forward)...)
}
