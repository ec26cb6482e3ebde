package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"cragcoach/internal/chat"
	"cragcoach/internal/climbing"
	cerrors "cragcoach/internal/errors"
	"cragcoach/internal/logging"
	"cragcoach/internal/orchestrator"
)

type apiHandler struct {
	deps   Dependencies
	logger logging.Logger
}

type chatRequest struct {
	UserID         any    `json:"user_id" binding:"required"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message" binding:"required"`
}

type bulkRefreshRequest struct {
	UserIDs   []any `json:"user_ids" binding:"required"`
	BatchSize int   `json:"batch_size" binding:"gte=0"`
}

type bulkRefreshResponse struct {
	Results   map[climbing.UserID]bool `json:"results"`
	Refreshed int                      `json:"refreshed"`
	Failed    int                      `json:"failed"`
}

func (h *apiHandler) handleHealth(c *gin.Context) {
	subscriptions := 0
	if h.deps.Events != nil {
		subscriptions = h.deps.Events.ActiveSubscriptions()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"subscriptions": subscriptions,
		"time":          h.deps.Clock().UTC(),
	})
}

func (h *apiHandler) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, cerrors.Validation("http.chat", "request body must include user_id and message", "user_id", "message"))
		return
	}
	resp, err := h.deps.Chat.Process(c.Request.Context(), chat.Request{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Prompt:         req.Message,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *apiHandler) handleUpload(c *gin.Context) {
	uid, ok := userParam(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.deps.MaxUploadBytes)

	filename, content, err := readUpload(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "uploaded file exceeds " + strconv.FormatInt(h.deps.MaxUploadBytes, 10) + " bytes",
				"kind":  cerrors.KindValidation,
			})
			return
		}
		writeError(c, err)
		return
	}

	result, err := h.deps.Chat.HandleUpload(c.Request.Context(), uid, filename, content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// readUpload accepts a multipart "file" field or a raw body named by the
// filename query parameter.
func readUpload(c *gin.Context) (string, []byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", nil, err
			}
			return "", nil, cerrors.Validation("http.upload", `multipart upload must include a "file" field`, "file")
		}
		f, err := header.Open()
		if err != nil {
			return "", nil, err
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		return header.Filename, content, err
	}

	filename := strings.TrimSpace(c.Query("filename"))
	if filename == "" {
		return "", nil, cerrors.Validation("http.upload", "filename query parameter is required for raw uploads", "filename")
	}
	content, err := io.ReadAll(c.Request.Body)
	return filename, content, err
}

func (h *apiHandler) handleGetContext(c *gin.Context) {
	uid, ok := userParam(c)
	if !ok {
		return
	}
	doc, found := h.deps.Contexts.GetContext(c.Request.Context(), uid, orchestrator.GetOptions{
		Query:          c.Query("query"),
		ConversationID: c.Query("conversation_id"),
		ForceRefresh:   queryBool(c, "refresh"),
	})
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "context unavailable for user " + uid.String()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *apiHandler) handleRefreshContext(c *gin.Context) {
	uid, ok := userParam(c)
	if !ok {
		return
	}
	refreshed := h.deps.Contexts.RefreshContext(c.Request.Context(), uid, c.Query("conversation_id"))
	status := http.StatusOK
	if !refreshed {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"user_id": uid, "refreshed": refreshed})
}

func (h *apiHandler) handleInvalidateContext(c *gin.Context) {
	uid, ok := userParam(c)
	if !ok {
		return
	}
	invalidated := h.deps.Cache.Invalidate(c.Request.Context(), uid.String(), c.Query("conversation_id"))
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "invalidated": invalidated})
}

func (h *apiHandler) handleBulkRefresh(c *gin.Context) {
	var req bulkRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, cerrors.Validation("http.bulk_refresh", "request body must include a user_ids array", "user_ids"))
		return
	}
	batch := req.BatchSize
	if batch == 0 {
		batch = h.deps.BulkBatchSize
	}
	results := h.deps.Contexts.BulkRefresh(c.Request.Context(), req.UserIDs, batch)

	resp := bulkRefreshResponse{Results: results}
	for _, ok := range results {
		if ok {
			resp.Refreshed++
		} else {
			resp.Failed++
		}
	}
	c.JSON(http.StatusOK, resp)
}

// userParam normalizes the :user_id path parameter, answering 400 when it
// is not a valid user id.
func userParam(c *gin.Context) (climbing.UserID, bool) {
	uid, err := climbing.NormalizeUserID(c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return uid, true
}

func queryBool(c *gin.Context, name string) bool {
	v, err := strconv.ParseBool(c.Query(name))
	return err == nil && v
}

func writeError(c *gin.Context, err error) {
	status := cerrors.HTTPStatus(err)
	body := gin.H{"error": cerrors.UserMessage(err)}
	if kind, ok := cerrors.KindOf(err); ok {
		body["kind"] = kind
	}
	var classified *cerrors.Error
	if errors.As(err, &classified) && len(classified.Fields) > 0 {
		body["fields"] = classified.Fields
	}
	c.AbortWithStatusJSON(status, body)
}
