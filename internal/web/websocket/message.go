package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope sent to clients
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Sent time.Time       `json:"sent_at"`
}

// NewMessage encodes data into a message of the given type
func NewMessage(messageType string, data interface{}) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", messageType, err)
	}
	return &Message{Type: messageType, Data: raw, Sent: time.Now().UTC()}, nil
}

// RoomMessage is a message addressed to one room
type RoomMessage struct {
	Room    string
	Message *Message
}
