package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxAudioBytes bounds the body of a recognition request.
const maxAudioBytes = 10 << 20

type requestIDKey struct{}

// WithRequestID stores a request id in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id of the context, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID assigns every request an id, reusing a valid incoming one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// Handler serves the metered operations to the chat transport
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler creates a new proxy handler
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log.With("component", "proxy")}
}

// RegisterRoutes mounts the transport API under /v1
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/tts", h.HandleSynthesize)
	v1.POST("/stt", h.HandleRecognize)
	v1.POST("/chat", h.HandleChat)
	v1.DELETE("/chat/history", h.HandleClearHistory)
	v1.GET("/voices", h.HandleVoices)
	v1.PUT("/users/:id/voice", h.HandleSetVoice)
	v1.PUT("/users/:id/emotion", h.HandleSetEmotion)
	v1.PUT("/users/:id/speed", h.HandleSetSpeed)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(c.Request.Context(), "operation failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": gin.H{
		"message": UserMessage(err),
		"type":    string(classify(err)),
	}})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": msg, "type": string(classInput)}})
}

type synthesizeRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Text   string `json:"text"`
}

// HandleSynthesize returns the voiced text as OGG audio
func (h *Handler) HandleSynthesize(c *gin.Context) {
	var req synthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.svc.Synthesize(c.Request.Context(), req.UserID, req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("X-Quota-Spent", strconv.FormatInt(res.Spent, 10))
	c.Header("X-Quota-Remaining", strconv.FormatInt(res.Remaining, 10))
	c.Data(http.StatusOK, "audio/ogg", res.Audio)
}

// HandleRecognize transcribes the raw OGG body
func (h *Handler) HandleRecognize(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid user_id")
		return
	}
	seconds, err := strconv.Atoi(c.Query("duration"))
	if err != nil {
		badRequest(c, "invalid duration")
		return
	}

	audio, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxAudioBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, ErrAudioTooLong)
			return
		}
		badRequest(c, err.Error())
		return
	}

	res, err := h.svc.Recognize(c.Request.Context(), userID, audio, seconds)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"text":      res.Text,
		"spent":     res.Spent,
		"remaining": res.Remaining,
	})
}

type chatRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Text   string `json:"text"`
	Model  string `json:"model"`
}

// HandleChat answers a chat message
func (h *Handler) HandleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.svc.Chat(c.Request.Context(), req.UserID, req.Text, req.Model)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"answer":    res.Answer,
		"spent":     res.Spent,
		"remaining": res.Remaining,
	})
}

// HandleClearHistory resets the chat history of ?user_id=
func (h *Handler) HandleClearHistory(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid user_id")
		return
	}

	if err := h.svc.ClearHistory(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleVoices lists voices and their emotions
func (h *Handler) HandleVoices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"voices": h.svc.Voices()})
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid user id")
		return 0, false
	}
	return id, true
}

type valueRequest struct {
	Value string `json:"value" binding:"required"`
}

func bindValue(c *gin.Context) (int64, string, bool) {
	id, ok := userIDParam(c)
	if !ok {
		return 0, "", false
	}
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return 0, "", false
	}
	return id, req.Value, true
}

// HandleSetVoice changes the synthesis voice
func (h *Handler) HandleSetVoice(c *gin.Context) {
	id, voice, ok := bindValue(c)
	if !ok {
		return
	}

	a, err := h.svc.SetVoice(c.Request.Context(), id, voice)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voice": a.Voice, "emotion": a.Emotion})
}

// HandleSetEmotion changes the synthesis emotion
func (h *Handler) HandleSetEmotion(c *gin.Context) {
	id, emotion, ok := bindValue(c)
	if !ok {
		return
	}

	a, err := h.svc.SetEmotion(c.Request.Context(), id, emotion)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voice": a.Voice, "emotion": a.Emotion})
}

// HandleSetSpeed changes the synthesis speed
func (h *Handler) HandleSetSpeed(c *gin.Context) {
	id, raw, ok := bindValue(c)
	if !ok {
		return
	}

	speed, err := h.svc.SetSpeed(c.Request.Context(), id, raw)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"speed": speed})
}
