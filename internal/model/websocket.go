package model

// WebSocket client frame types
const (
	WSMessageTypeSubscribe   = "subscribe"
	WSMessageTypeUnsubscribe = "unsubscribe"
	WSMessageTypePing        = "ping"
	WSMessageTypePong        = "pong"
)

// WSMessage represents a client-to-server WebSocket frame
type WSMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
}
