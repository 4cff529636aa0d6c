package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"omni/internal/config"
	"omni/internal/logger"
	"omni/internal/mapper"
	"omni/internal/monitoring"
	"omni/internal/publisher"
	"omni/pkg/errors"
	"omni/pkg/logging"
	"omni/pkg/metrics"
	"omni/pkg/models"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"

	DefaultMaxBodyBytes = 1 << 20
	DefaultWindow       = time.Minute
)

var ErrPayloadTooLarge = errors.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge).AsFatal()

// Publisher is the part of *publisher.Publisher the gateway depends on.
type Publisher interface {
	Publish(ctx context.Context, streamKey string, env models.Envelope, opts ...publisher.Option) (publisher.Result, error)
}

type Deps struct {
	Mappers      *mapper.Registry
	Coercer      *models.Coercer
	Publisher    Publisher
	Monitor      *monitoring.Registry
	Streams      config.StreamsConfig
	Window       time.Duration
	MaxBodyBytes int64
	Logger       logger.Logger
}

type BaseHandler struct {
	Monitor *monitoring.Registry
	Logger  logger.Logger
}

// HandleError counts the failure and writes the error body for its kind.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Monitor.Incr(monitoring.CounterErrors)

	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

type Handler struct {
	BaseHandler
	mappers      *mapper.Registry
	coercer      *models.Coercer
	publisher    Publisher
	streams      config.StreamsConfig
	window       time.Duration
	maxBodyBytes int64
}

func NewHandler(deps Deps) *Handler {
	if deps.Monitor == nil {
		deps.Monitor = monitoring.NewRegistry(monitoring.Options{})
	}
	if deps.Logger == nil {
		deps.Logger = logger.NopLogger()
	}
	if deps.Coercer == nil {
		deps.Coercer = models.DefaultCoercer()
	}
	if deps.Mappers == nil {
		deps.Mappers = mapper.NewDefaultRegistry(deps.Coercer)
	}
	if deps.Window <= 0 {
		deps.Window = DefaultWindow
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}

	return &Handler{
		BaseHandler: BaseHandler{
			Monitor: deps.Monitor,
			Logger:  deps.Logger,
		},
		mappers:      deps.Mappers,
		coercer:      deps.Coercer,
		publisher:    deps.Publisher,
		streams:      deps.Streams,
		window:       deps.Window,
		maxBodyBytes: deps.MaxBodyBytes,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter, auth ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1", auth...)
	{
		v1.GET("/channels", h.ListChannels)
		v1.POST("/webhooks/:channel", h.ReceiveWebhook)
		v1.POST("/messages", h.SendMessage)
		v1.GET("/monitoring", h.GetMonitoring)
	}
}

// ReceiveWebhook normalizes a provider payload and publishes every message it
// carries to the inbound stream.
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	ch := models.Channel(strings.ToLower(c.Param("channel")))
	ctx := logging.WithChannel(c.Request.Context(), string(ch))
	c.Request = c.Request.WithContext(ctx)

	body, err := h.readBody(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	envs, err := h.mappers.Normalize(ch, body)
	if challenge, ok := mapper.AsChallenge(err); ok {
		c.JSON(http.StatusOK, gin.H{"challenge": challenge.Value})
		return
	}
	if stderrors.Is(err, mapper.ErrIgnored) {
		metrics.IncInbound(string(ch), "ignored")
		h.Logger.DebugwCtx(ctx, "Webhook ignored", "reason", err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		metrics.IncInbound(string(ch), "rejected")
		h.HandleError(c, err)
		return
	}

	explicit := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	results := make([]publisher.Result, 0, len(envs))
	for i, env := range envs {
		h.Monitor.Incr(monitoring.CounterMessages)

		var opts []publisher.Option
		if explicit != "" {
			key := explicit
			if len(envs) > 1 {
				key = explicit + ":" + strconv.Itoa(i)
			}
			opts = append(opts, publisher.WithIdempotencyKey(key))
		}

		res, err := h.publisher.Publish(ctx, h.streams.Inbound, env, opts...)
		if err != nil {
			metrics.IncInbound(string(ch), "failed")
			h.HandleError(c, err)
			return
		}
		metrics.IncInbound(string(ch), "accepted")
		results = append(results, res)
	}

	if len(results) == 1 {
		c.JSON(http.StatusAccepted, results[0])
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"messages": results})
}

type sendResponse struct {
	publisher.Result
	Request requestPreview `json:"request"`
}

type requestPreview struct {
	Endpoint    string `json:"endpoint"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// SendMessage validates an outbound envelope, renders the provider request
// and publishes the envelope to the outbound stream.
func (h *Handler) SendMessage(c *gin.Context) {
	body, err := h.readBody(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	env, err := h.coercer.CoerceOutbound(body)
	if err != nil {
		metrics.IncOutbound("unknown", "rejected")
		h.HandleError(c, err)
		return
	}

	ctx := logging.WithChannel(c.Request.Context(), string(env.Channel))
	c.Request = c.Request.WithContext(ctx)

	req, err := h.mappers.Render(env)
	if err != nil {
		metrics.IncOutbound(string(env.Channel), "rejected")
		h.HandleError(c, err)
		return
	}

	var opts []publisher.Option
	if key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader)); key != "" {
		opts = append(opts, publisher.WithIdempotencyKey(key))
	}

	res, err := h.publisher.Publish(ctx, h.streams.Outbound, env, opts...)
	if err != nil {
		metrics.IncOutbound(string(env.Channel), "failed")
		h.HandleError(c, err)
		return
	}
	metrics.IncOutbound(string(env.Channel), "accepted")

	c.JSON(http.StatusAccepted, sendResponse{
		Result: res,
		Request: requestPreview{
			Endpoint:    req.Endpoint,
			ContentType: req.ContentType,
			Body:        string(req.Body),
		},
	})
}

// GetMonitoring serves the registry snapshot. A "window" query parameter
// (Go duration, e.g. "5m") overrides the configured counter window.
func (h *Handler) GetMonitoring(c *gin.Context) {
	window := h.window
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.HandleError(c, errors.NewError("invalid_window", "window must be a positive duration", http.StatusBadRequest).
				WithDetail("window", raw))
			return
		}
		window = d
	}
	c.JSON(http.StatusOK, h.Monitor.Snapshot(window))
}

func (h *Handler) ListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.mappers.Channels()})
}

func (h *Handler) readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, ErrPayloadTooLarge.WithDetail("limit", tooLarge.Limit)
		}
		return nil, errors.ErrInternal.WithCause(fmt.Errorf("read body: %w", err))
	}
	return body, nil
}
