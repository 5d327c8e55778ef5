package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/middleware"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/service"
)

// ConversationHandler 负责处理会话管理相关的 API 请求。
type ConversationHandler struct {
	convService    service.ConversationService
	messageService service.MessageService
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(convService service.ConversationService, messageService service.MessageService) *ConversationHandler {
	return &ConversationHandler{convService: convService, messageService: messageService}
}

// Initialize 在用户进入聊天界面时调用：清理空会话、加载列表并确保有一个选中的会话。
func (h *ConversationHandler) Initialize(c *gin.Context) {
	snapshot, err := h.convService.Initialize(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, snapshot)
}

// List 刷新并返回用户的会话列表。
func (h *ConversationHandler) List(c *gin.Context) {
	snapshot, err := h.convService.Refresh(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, snapshot)
}

// Create 创建一个新会话并选中。已有创建在途时返回 202，客户端应等待上一次完成。
func (h *ConversationHandler) Create(c *gin.Context) {
	id, err := h.convService.CreateNewChat(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if id == "" {
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "creation already in progress"})
		return
	}
	respondOK(c, gin.H{"conversationId": id})
}

// Select 把当前会话切换到指定 ID。
func (h *ConversationHandler) Select(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	id := c.Param("id")
	if err := h.convService.SelectConversation(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}
	messages, err := h.messageService.LoadMessages(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"conversationId": id, "messages": messages})
}

// Messages 返回会话的全部消息（按创建时间升序）。
func (h *ConversationHandler) Messages(c *gin.Context) {
	messages, err := h.messageService.LoadMessages(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"messages": messages})
}

// Delete 删除指定会话。
func (h *ConversationHandler) Delete(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	if err := h.convService.DeleteConversation(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"current": h.convService.Current(userID)})
}

// ClearAll 删除用户的全部会话，并返回新建的替代会话 ID。
func (h *ConversationHandler) ClearAll(c *gin.Context) {
	id, err := h.convService.ClearAll(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"conversationId": id})
}
