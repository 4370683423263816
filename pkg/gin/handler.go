// Package gin exposes the mint queue over HTTP.
package gin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mint "github.com/permitmint/mint/go"
	"github.com/permitmint/mint/go/queue"
)

// DefaultMaxBodyBytes bounds a submit request, image included.
const DefaultMaxBodyBytes = 12 << 20

// MintService is what the handler needs from the queue manager.
type MintService interface {
	Submit(ctx context.Context, task mint.MintTask) (*mint.MintOutcome, error)
	Status(ctx context.Context) (mint.QueueStatus, error)
	Ping(ctx context.Context) error
	PartialMints(ctx context.Context) ([]queue.PartialMint, error)
}

var _ MintService = (*queue.Manager)(nil)

// SubmitRequest is the body of POST /mint. Image is base64 in JSON.
type SubmitRequest struct {
	CollectionType string           `json:"collectionType" binding:"required"`
	Image          []byte           `json:"image" binding:"required"`
	Permit         mint.Permit      `json:"permit"`
	Attributes     []mint.Attribute `json:"attributes"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	TokenID   string `json:"tokenId,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Retryable bool   `json:"retryable"`
}

// HandlerOptions configures the Handler.
type HandlerOptions struct {
	Authenticator Authenticator
	AdminKeys     []string
	MaxBodyBytes  int64
	RetryAfter    time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// Options is a functional option for the Handler.
type Options func(*HandlerOptions)

// WithAuthenticator sets how the caller's address is resolved.
func WithAuthenticator(auth Authenticator) Options {
	return func(o *HandlerOptions) {
		o.Authenticator = auth
	}
}

// WithAdminKeys protects the operator routes.
func WithAdminKeys(keys []string) Options {
	return func(o *HandlerOptions) {
		o.AdminKeys = keys
	}
}

func WithMaxBodyBytes(n int64) Options {
	return func(o *HandlerOptions) {
		o.MaxBodyBytes = n
	}
}

// WithRetryAfter sets the Retry-After hint sent with infrastructure errors.
func WithRetryAfter(d time.Duration) Options {
	return func(o *HandlerOptions) {
		o.RetryAfter = d
	}
}

func WithLogger(logger *zap.Logger) Options {
	return func(o *HandlerOptions) {
		o.Logger = logger
	}
}

func WithClock(now func() time.Time) Options {
	return func(o *HandlerOptions) {
		o.Now = now
	}
}

// Handler serves submit, status and health requests.
type Handler struct {
	service MintService
	options HandlerOptions
}

// NewHandler creates a handler over service.
func NewHandler(service MintService, opts ...Options) *Handler {
	options := HandlerOptions{
		Authenticator: HeaderAuthenticator(HeaderUserAddress),
		MaxBodyBytes:  DefaultMaxBodyBytes,
		RetryAfter:    5 * time.Second,
		Logger:        zap.NewNop(),
		Now:           time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Handler{service: service, options: options}
}

// NewRouter builds an engine with recovery, request logging and all routes.
func NewRouter(service MintService, opts ...Options) *gin.Engine {
	h := NewHandler(service, opts...)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.options.Logger))
	h.Register(r)
	return r
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/mint", RequireUser(h.options.Authenticator), h.submit)
	r.GET("/queue/status", h.status)
	r.GET("/health", h.health)
	r.GET("/admin/partial-mints", RequireAPIKey(h.options.AdminKeys), h.partialMints)
}

func (h *Handler) submit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.options.MaxBodyBytes)

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "request_too_large",
				Message: "request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   mint.ErrCodeInvalidTask,
			Kind:    string(mint.KindInput),
			Message: err.Error(),
		})
		return
	}

	collection, err := mint.ParseCollectionType(req.CollectionType)
	if err != nil {
		h.writeError(c, err)
		return
	}

	task := mint.NewMintTask(userAddress(c), collection, req.Image, req.Permit, req.Attributes, h.options.Now())
	outcome, err := h.service.Submit(c.Request.Context(), task)
	if err != nil {
		if errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil {
			// Caller went away; the task keeps running.
			h.options.Logger.Info("caller disconnected before mint finished", zap.String("task_id", task.ID))
			c.Status(499)
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *Handler) status(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queueLength":  status.QueueLength,
		"isProcessing": status.IsProcessing,
	})
}

func (h *Handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	body := gin.H{"store": "ok"}
	code := http.StatusOK

	if err := h.service.Ping(ctx); err != nil {
		body["store"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	status, err := h.service.Status(ctx)
	if err == nil {
		body["queueLength"] = status.QueueLength
		body["isProcessing"] = status.IsProcessing
	}
	body["instanceId"] = status.InstanceID
	body["degraded"] = status.Degraded
	c.JSON(code, body)
}

func (h *Handler) partialMints(c *gin.Context) {
	records, err := h.service.PartialMints(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if records == nil {
		records = []queue.PartialMint{}
	}
	c.JSON(http.StatusOK, gin.H{"partialMints": records})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	me, ok := mint.AsMintError(err)
	if !ok {
		h.options.Logger.Error("untyped error reached the boundary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Kind:    string(mint.KindFatal),
			Message: "internal error",
		})
		return
	}

	resp := ErrorResponse{
		Error:     me.Code,
		Kind:      string(me.Kind),
		Message:   me.Message,
		Reason:    me.Reason,
		TxHash:    me.TxHash,
		Retryable: mint.IsRetryable(me),
	}
	if me.TokenID != nil {
		resp.TokenID = me.TokenID.String()
	}

	code := StatusForError(me)
	switch me.Kind {
	case mint.KindInfrastructure:
		resp.Message = "temporarily unavailable, retry later"
		c.Header("Retry-After", strconv.Itoa(int(h.options.RetryAfter.Seconds())))
	case mint.KindPostMint:
		resp.Message = "token minted but not finalized; contact support with the token id"
	case mint.KindFatal:
		resp.Message = "mint state unknown; contact support"
	}
	c.JSON(code, resp)
}

// StatusForError maps an error kind to an HTTP status.
func StatusForError(me *mint.MintError) int {
	switch me.Kind {
	case mint.KindInput:
		if me.Code == mint.ErrCodeDuplicatePendingMint {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case mint.KindEligibility:
		if me.Code == mint.ErrCodeMintLimitReached {
			return http.StatusForbidden
		}
		return http.StatusPaymentRequired
	case mint.KindSettlement:
		return http.StatusUnprocessableEntity
	case mint.KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
