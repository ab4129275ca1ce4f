package controller

import (
	"context"
	"net/http"
	"strings"
	"time"

	"runbox/internal/common/http/middleware"
	"runbox/internal/execution/model"
	"runbox/internal/execution/sandbox"
	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/service"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"
	"runbox/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const streamWriteTimeout = 5 * time.Second

// ExecutionService is the subset of the service used by HTTP handlers.
type ExecutionService interface {
	ExecuteSync(ctx context.Context, sessionID string, req model.ExecuteRequest) (result.Report, error)
	Stream(ctx context.Context, sessionID string, req model.ExecuteRequest, sink sandbox.FrameSink) (result.Report, error)
	Submit(ctx context.Context, input service.SubmitInput) (model.SubmitResponse, error)
	GetStatus(ctx context.Context, sessionID string) (model.StatusResponse, error)
	Languages() []model.LanguageInfo
}

// ExecutionController handles execution HTTP endpoints.
type ExecutionController struct {
	svc      ExecutionService
	upgrader websocket.Upgrader
}

// NewExecutionController creates a new ExecutionController.
func NewExecutionController(svc ExecutionService) *ExecutionController {
	return &ExecutionController{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The API carries no cookies or credentials, so any origin may stream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the execution API under /api/v1.
func (h *ExecutionController) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	v1.POST("/executions", h.Execute)
	v1.POST("/executions/async", h.Submit)
	v1.GET("/executions/stream", h.Stream)
	v1.GET("/executions/:id", h.GetStatus)
	v1.GET("/languages", h.Languages)
}

// Execute runs a session and responds with the full report.
func (h *ExecutionController) Execute(c *gin.Context) {
	var req model.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	report, err := h.svc.ExecuteSync(c.Request.Context(), middleware.SessionID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// Submit queues a session and responds with its Pending status.
func (h *ExecutionController) Submit(c *gin.Context) {
	var req model.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	resp, err := h.svc.Submit(c.Request.Context(), service.SubmitInput{
		Request:        req,
		SessionID:      middleware.SessionID(c),
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithStatus(c, http.StatusAccepted, resp)
}

// GetStatus returns status for one session.
func (h *ExecutionController) GetStatus(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		response.BadRequest(c, "Invalid session id")
		return
	}
	status, err := h.svc.GetStatus(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Languages lists supported languages.
func (h *ExecutionController) Languages(c *gin.Context) {
	response.Success(c, h.svc.Languages())
}

// Stream upgrades to a websocket, reads one ExecuteRequest and writes one
// JSON frame per test case followed by a terminal frame. Closing the socket
// cancels the session.
func (h *ExecutionController) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	var req model.ExecuteRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeFrame(conn, sandbox.Frame{Type: sandbox.FrameSessionError, Message: "invalid request: " + err.Error()})
		return
	}

	// Any further read, including a close frame, means the client is gone.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	sink := func(f sandbox.Frame) {
		if ctx.Err() != nil {
			return
		}
		if err := writeFrame(conn, f); err != nil {
			logger.Info(ctx, "stream client went away", zap.Error(err))
			cancel()
		}
	}
	if _, err := h.svc.Stream(ctx, middleware.SessionID(c), req, sink); err != nil {
		writeFrame(conn, sandbox.Frame{
			Type:       sandbox.FrameSessionError,
			TotalCount: len(req.TestCases),
			Message:    appErr.GetError(err).Error(),
		})
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func writeFrame(conn *websocket.Conn, f sandbox.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(f)
}
