package handlers

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"chat-gateway-api/internal/middleware"
	"chat-gateway-api/internal/models"
	"chat-gateway-api/internal/realtime"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// CreateMessageRequest represents the payload for sending a message
type CreateMessageRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
}

// UpdateMessageStatusRequest represents a delivery receipt
type UpdateMessageStatusRequest struct {
	Status models.MessageStatus `json:"status" binding:"required,oneof=delivered read"`
}

/*
CreateMessage handles POST /api/messages/:receiverId
Persists the message, then pushes new_message to the receiver's live connections.
*/
func (h *Handler) CreateMessage(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	receiverID := c.Param("receiverId")

	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if receiverID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot send a message to yourself"})
		return
	}

	var receiver models.User
	if err := h.db.Select("id").Where("id = ?", receiverID).First(&receiver).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Receiver not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch receiver"})
		}
		return
	}

	msg := models.Message{
		SenderID:   userID,
		ReceiverID: receiverID,
		Content:    req.Content,
	}
	if err := h.db.Create(&msg).Error; err != nil {
		h.log.Error("create message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create message"})
		return
	}

	// Push is best effort; the message is already stored
	delivered := h.gateway.NotifyNewMessage(userID, receiverID, msg)
	h.log.Debug("message created",
		zap.String("message_id", msg.ID),
		zap.Int("pushed", delivered))

	c.JSON(http.StatusCreated, msg)
}

/*
GetMessages handles GET /api/messages/:receiverId
Returns the conversation between the caller and receiverId in created_at order.
Query params: after, before (RFC3339) and limit (default 50, max 200). Without
after, the newest page before "before" (or now) is returned.
*/
func (h *Handler) GetMessages(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	otherID := c.Param("receiverId")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultMessageLimit)))
	if err != nil || limit < 1 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	after, okAfter, err := parseTimeQuery(c, "after")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "after must be an RFC3339 timestamp"})
		return
	}
	before, okBefore, err := parseTimeQuery(c, "before")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "before must be an RFC3339 timestamp"})
		return
	}

	query := h.db.Model(&models.Message{}).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, otherID, otherID, userID)
	if okAfter {
		query = query.Where("created_at > ?", after)
	}
	if okBefore {
		query = query.Where("created_at < ?", before)
	}

	order := "created_at desc"
	if okAfter {
		order = "created_at asc"
	}

	var messages []models.Message
	if err := query.Order(order).Limit(limit).Find(&messages).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}
	if !okAfter {
		slices.Reverse(messages)
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
		"limit":    limit,
	})
}

func parseTimeQuery(c *gin.Context, key string) (time.Time, bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), true, nil
}

/*
UpdateMessageStatus handles PATCH /api/messages/:id/status
Only the receiver may acknowledge a message. The original sender is notified
with message_status when the status moves forward.
*/
func (h *Handler) UpdateMessageStatus(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	messageID := c.Param("id")

	var req UpdateMessageStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var msg models.Message
	if err := h.db.Where("id = ?", messageID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch message"})
		}
		return
	}
	if msg.ReceiverID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the receiver can update message status"})
		return
	}

	// Receipts never move backwards; repeating one is a no-op
	if !msg.Status.Advances(req.Status) {
		c.JSON(http.StatusOK, msg)
		return
	}

	// Explicitly update only the status column to ensure persistence
	if err := h.db.Model(&msg).Update("status", req.Status).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update status"})
		return
	}
	msg.Status = req.Status

	status, ok := receiptStatus(req.Status)
	if ok {
		h.gateway.NotifyStatus(msg.ID, msg.SenderID, status)
	}
	c.JSON(http.StatusOK, msg)
}

// receiptStatus maps a stored status onto the receipt pushed to the sender.
// "sent" has no receipt.
func receiptStatus(s models.MessageStatus) (realtime.MessageStatus, bool) {
	switch s {
	case models.MessageDelivered:
		return realtime.MessageDelivered, true
	case models.MessageRead:
		return realtime.MessageRead, true
	}
	return "", false
}
