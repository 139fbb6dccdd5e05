package relay

import (
	"encoding/json"
	"time"

	"csbridge/internal/domain"
)

// Outbound envelope types.
const (
	TypeWelcome      = "welcome"
	TypePong         = "pong"
	TypeDataReceived = "data_received"
	TypeSendAIReply  = "sendAIReply"
	TypeError        = "error"
)

// Inbound envelope types.
const (
	TypePing         = "ping"
	TypeDianpingData = "dianping_data"
)

const (
	msgWelcome        = "连接成功! 大众点评数据提取服务已就绪"
	msgPong           = "服务器正常运行"
	msgDataReceived   = "大众点评数据已接收"
	msgUnsupported    = "不支持的数据类型"
	msgBadJSON        = "JSON格式错误"
	msgInternalError  = "服务器内部错误"
	msgUnknownTypeFmt = "未知的消息类型: %s"
	msgListFmt        = "数据列表已接收 (%d条)"
)

// DefaultChatID keys items from connections that name no chat.
const DefaultChatID = "unknown_chat"

// chatPage is the pageType whose payload carries chat items.
const chatPage = "chat_page"

// Envelope is every message the relay sends.
type Envelope struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Text      string `json:"text,omitempty"`
	DataID    string `json:"data_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// inbound is the typed object form of a client message.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// dianpingPayload is the part of a dianping_data payload the relay reads.
type dianpingPayload struct {
	PageType string               `json:"pageType"`
	ChatID   string               `json:"chatId"`
	Data     []domain.ScrapedItem `json:"data"`
}

func stamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000000")
}
