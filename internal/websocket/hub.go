package websocket

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"foliamail/backend/internal/domain"
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 没有 Origin 视为同源请求
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMail    MessageType = "new_mail"
	MessageTypeChat       MessageType = "chat"
	MessageTypeGrantItems MessageType = "grant_items"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
	MessageTypeError      MessageType = "error"
)

// Message WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Text      string          `json:"text,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 一个玩家的在线连接
type Client struct {
	PlayerID string
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	log      *zap.Logger
}

// Hub 玩家会话中心
//
// 每个玩家最多一条连接，新连接顶掉旧连接。实现了 session.Directory，
// 邮件服务和跨服通知器通过它判断在线状态并推送消息。
type Hub struct {
	players    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	log        *zap.Logger

	allowedOrigins []string
	gateToken      string

	onConnect    func(playerID string)
	onDisconnect func(playerID string)
}

// NewHub 创建会话中心
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，空则允许所有
//   - gateToken: 连接令牌，非空时客户端必须携带一致的 token 参数
func NewHub(allowedOrigins []string, gateToken string, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Hub{
		players:        make(map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		log:            log,
		allowedOrigins: allowedOrigins,
		gateToken:      gateToken,
	}
}

// SetLifecycleHooks 注册玩家上线/下线回调
//
// 必须在 Run 之前调用。回调在会话中心协程上执行，不能阻塞。
func (h *Hub) SetLifecycleHooks(onConnect, onDisconnect func(playerID string)) {
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
}

// Run 启动会话中心
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("session hub stopped")
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.players[client.PlayerID]; ok {
				close(old.send)
			}
			h.players[client.PlayerID] = client
			h.mu.Unlock()
			h.log.Info("player connected", zap.String("player", client.PlayerID))
			if h.onConnect != nil {
				h.onConnect(client.PlayerID)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			removed := false
			if cur, ok := h.players[client.PlayerID]; ok && cur == client {
				delete(h.players, client.PlayerID)
				close(client.send)
				removed = true
				h.log.Info("player disconnected", zap.String("player", client.PlayerID))
			}
			h.mu.Unlock()
			if removed && h.onDisconnect != nil {
				h.onDisconnect(client.PlayerID)
			}

		case <-ticker.C:
			h.pingAll()
		}
	}
}

// IsOnline 玩家是否在线
func (h *Hub) IsOnline(playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.players[playerID]
	return ok
}

// SendMessage 给在线玩家推送一条文本消息
func (h *Hub) SendMessage(playerID, message string) bool {
	return h.push(playerID, &Message{
		Type:      MessageTypeChat,
		Text:      message,
		Timestamp: time.Now(),
	})
}

// NewMailData 新邮件通知数据
type NewMailData struct {
	MailID     string `json:"mailId"`
	SenderName string `json:"senderName"`
	Title      string `json:"title"`
	SentTime   int64  `json:"sentTime"`
}

// NotifyNewMail 给在线玩家推送新邮件通知
func (h *Hub) NotifyNewMail(playerID string, notification domain.MailNotification) bool {
	data, err := json.Marshal(NewMailData{
		MailID:     notification.MailID,
		SenderName: notification.SenderName,
		Title:      notification.Title,
		SentTime:   notification.SentTime,
	})
	if err != nil {
		h.log.Error("failed to marshal new mail data", zap.Error(err))
		return false
	}
	return h.push(playerID, &Message{
		Type:      MessageTypeNewMail,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// GrantItemsData 物品发放指令数据
type GrantItemsData struct {
	Items []domain.ItemStack `json:"items"`
}

// GrantItems 把物品发放指令推给玩家所在的游戏服
//
// 实际入包由游戏侧执行，放不下的部分按游戏侧规则掉落。玩家离线时
// 指令无处投递，但领取协议保证只有在线玩家能走到这里。
func (h *Hub) GrantItems(playerID string, items []domain.ItemStack) {
	data, err := json.Marshal(GrantItemsData{Items: items})
	if err != nil {
		h.log.Error("failed to marshal grant items data", zap.Error(err))
		return
	}
	if !h.push(playerID, &Message{
		Type:      MessageTypeGrantItems,
		Data:      data,
		Timestamp: time.Now(),
	}) {
		h.log.Warn("grant items instruction dropped, player offline",
			zap.String("player", playerID),
			zap.Int("items", len(items)))
	}
}

// OnlineCount 在线玩家数
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.players)
}

func (h *Hub) push(playerID string, msg *Message) bool {
	h.mu.RLock()
	client, ok := h.players[playerID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return false
	}

	select {
	case client.send <- data:
		return true
	default:
		h.log.Warn("player channel blocked, dropping message",
			zap.String("player", playerID))
		return false
	}
}

func (h *Hub) pingAll() {
	data, err := json.Marshal(&Message{Type: MessageTypePing, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.players {
		select {
		case client.send <- data:
		default:
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.players {
		close(client.send)
	}
	h.players = make(map[string]*Client)
}

// HandleWebSocket 处理玩家连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		playerID := c.Query("playerId")
		if playerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "playerId is required"})
			return
		}
		if hub.gateToken != "" {
			token := c.Query("token")
			if subtle.ConstantTimeCompare([]byte(hub.gateToken), []byte(token)) != 1 {
				hub.log.Warn("websocket authentication failed",
					zap.String("player", playerID),
					zap.String("remote_addr", c.ClientIP()))
				c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			PlayerID: playerID,
			conn:     conn,
			send:     make(chan []byte, 256),
			hub:      hub,
			log:      hub.log,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}

		if msg.Type == MessageTypePong {
			c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		}
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
