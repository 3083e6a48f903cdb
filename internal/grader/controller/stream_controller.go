package controller

import (
	"net/http"
	"sync"
	"time"

	"academyjudge/internal/grader/evaluator"
	"academyjudge/internal/grader/model"
	"academyjudge/internal/grader/service"
	appErr "academyjudge/pkg/errors"
	"academyjudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamReadTimeout  = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// Stream frame types.
const (
	FrameResult = "result"
	FrameDone   = "done"
	FrameError  = "error"
)

// StreamFrame is one server message on the submission stream.
type StreamFrame struct {
	Type    string                `json:"type"`
	Index   int                   `json:"index,omitempty"`
	Total   int                   `json:"total,omitempty"`
	Result  *model.TestCaseResult `json:"result,omitempty"`
	Outcome *service.SubmitOutput `json:"outcome,omitempty"`
	Code    appErr.ErrorCode      `json:"code,omitempty"`
	Message string                `json:"message,omitempty"`
}

// StreamController grades a submission over a websocket, sending each test case result as it completes.
type StreamController struct {
	grader   *service.GraderService
	upgrader websocket.Upgrader
}

func NewStreamController(grader *service.GraderService) *StreamController {
	return &StreamController{
		grader: grader,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Stream reads one SubmitRequest frame, then streams result frames and a final done frame.
func (h *StreamController) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var mu sync.Mutex
	send := func(frame StreamFrame) {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Debug(ctx, "websocket write failed", zap.Error(err))
		}
	}
	sendError := func(err error) {
		e := appErr.GetError(err)
		send(StreamFrame{Type: FrameError, Code: e.Code, Message: e.Error()})
	}

	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	var req SubmitRequest
	if err := conn.ReadJSON(&req); err != nil {
		sendError(appErr.BadRequest("Invalid request parameters"))
		return
	}
	if req.QuestionID <= 0 || req.Code == "" || req.Language == "" {
		sendError(appErr.BadRequest("Invalid request parameters"))
		return
	}
	language := normalizeLanguage(req.Language)
	if !h.grader.Supports(language) {
		sendError(appErr.UnsupportedLanguage(language))
		return
	}

	out, err := h.grader.SubmitSolution(ctx, service.SubmitInput{
		QuestionID: req.QuestionID,
		Code:       req.Code,
		Language:   language,
	}, evaluator.WithProgress(func(index, total int, result model.TestCaseResult) {
		send(StreamFrame{Type: FrameResult, Index: index, Total: total, Result: &result})
	}))
	if err != nil {
		sendError(err)
		return
	}
	send(StreamFrame{Type: FrameDone, Outcome: &out})

	mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	mu.Unlock()
}
