// Package stream pushes canonical sentiment updates to dashboard clients and
// provides a reconnecting client for consuming them.
package stream

import (
	"encoding/json"
	"fmt"
)

// MessageType is the envelope type.
type MessageType string

const (
	TypeHeartbeat       MessageType = "heartbeat"
	TypeSentimentUpdate MessageType = "sentiment_update"
	TypeResync          MessageType = "resync"
)

// Message is the envelope delivered to clients.
// ID is the stream id; zero for heartbeat and resync messages, which are
// never buffered.
type Message struct {
	ID        uint64          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`

	// Symbol routes the message through subscription filters.
	// Empty means every subscriber.
	Symbol string `json:"-"`
}

// SentimentUpdate is the data of a sentiment_update message.
type SentimentUpdate struct {
	ConfigID          string   `json:"configId"`
	Ticker            string   `json:"ticker"`
	Source            string   `json:"source"`
	Sentiment         float64  `json:"sentiment"`
	PreviousSentiment *float64 `json:"previousSentiment,omitempty"`
	Timestamp         int64    `json:"timestamp"`
	EventID           string   `json:"eventId,omitempty"`
}

// NewSentimentMessage builds an unpublished sentiment_update message.
func NewSentimentMessage(u SentimentUpdate, now int64) (Message, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return Message{}, fmt.Errorf("marshal sentiment update: %w", err)
	}
	return Message{
		Type:      TypeSentimentUpdate,
		Data:      data,
		Timestamp: now,
		Symbol:    u.Ticker,
	}, nil
}

// DecodeSentiment decodes the data of a sentiment_update message.
func (m Message) DecodeSentiment() (SentimentUpdate, error) {
	var u SentimentUpdate
	if m.Type != TypeSentimentUpdate {
		return u, fmt.Errorf("message type %q is not %q", m.Type, TypeSentimentUpdate)
	}
	if err := json.Unmarshal(m.Data, &u); err != nil {
		return u, fmt.Errorf("decode sentiment update: %w", err)
	}
	return u, nil
}
