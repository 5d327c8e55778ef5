package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/middleware"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/service"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/log"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理消息发送，包括 HTTP 接口与 WebSocket 连接。
type ChatHandler struct {
	messageService service.MessageService
	quotaService   service.QuotaService
	jwtManager     *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(messageService service.MessageService, quotaService service.QuotaService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		messageService: messageService,
		quotaService:   quotaService,
		jwtManager:     jwtManager,
	}
}

// SendRequest 定义了发送消息 API 的请求体结构。
type SendRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	Content        string `json:"content" binding:"required"`
}

// Send 处理一次 HTTP 消息发送：配额校验、落库、调用助手并返回两条消息。
func (h *ChatHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "conversationId 和 content 不能为空"})
		return
	}

	userID := middleware.CurrentUserID(c)
	if err := h.quotaService.Allow(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}

	userMsg, assistantMsg, err := h.messageService.Send(c.Request.Context(), userID, req.ConversationID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	if userMsg == nil {
		// 输入为空或已有发送在途，静默空跑。
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "send skipped"})
		return
	}
	respondOK(c, gin.H{
		"userMessage":      userMsg,
		"assistantMessage": assistantMsg,
	})
}

// wsFrame 是 WebSocket 下行帧的统一结构。
type wsFrame struct {
	Type             string      `json:"type"`
	Message          string      `json:"message,omitempty"`
	UserMessage      interface{} `json:"userMessage,omitempty"`
	AssistantMessage interface{} `json:"assistantMessage,omitempty"`
	Timestamp        int64       `json:"timestamp"`
}

func writeFrame(conn *websocket.Conn, f wsFrame) {
	f.Timestamp = time.Now().UnixMilli()
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 帧失败: %v", err)
	}
}

// wsSendRequest 是 WebSocket 上行消息的结构。
type wsSendRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// Handle 处理一个传入的 WebSocket 连接。
// 每条上行消息触发一次完整的发送流水线，下行依次是 pending 与 completion/error 帧。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req wsSendRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeFrame(conn, wsFrame{Type: "error", Message: "无法解析消息"})
			continue
		}

		if err := h.quotaService.Allow(c.Request.Context(), claims.UserID); err != nil {
			writeFrame(conn, wsFrame{Type: "error", Message: err.Error()})
			continue
		}

		writeFrame(conn, wsFrame{Type: "pending", Message: "消息处理中"})

		userMsg, assistantMsg, err := h.messageService.Send(c.Request.Context(), claims.UserID, req.ConversationID, req.Content)
		if err != nil {
			log.Errorf("处理消息发送失败: %v", err)
			writeFrame(conn, wsFrame{Type: "error", Message: "AI服务暂时不可用，请稍后重试"})
			continue
		}
		if userMsg == nil {
			writeFrame(conn, wsFrame{Type: "skipped", Message: "发送被跳过"})
			continue
		}
		writeFrame(conn, wsFrame{
			Type:             "completion",
			Message:          "响应已完成",
			UserMessage:      userMsg,
			AssistantMessage: assistantMsg,
		})
	}
}
