package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sender types.
const (
	SenderPatient = "patient"
	SenderDoctor  = "doctor"
)

// Message types.
const (
	TypeText           = "text"
	TypeRecommendation = "medication_recommendation"
)

// Message maps to the chat_message table, an append-only chat entry.
// Everything but IsRead is immutable after creation. ID is the global
// deduplication key; ordering within a session is by CreatedAt with ID as
// the tiebreak.
type Message struct {
	ID          uuid.UUID `db:"id" json:"id"`
	SessionID   uuid.UUID `db:"session_id" json:"session_id"`
	SenderID    uuid.UUID `db:"sender_id" json:"sender_id"`
	SenderType  string    `db:"sender_type" json:"sender_type"`
	Content     string    `db:"content" json:"content"`
	MessageType string    `db:"message_type" json:"message_type"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	IsRead      bool      `db:"is_read" json:"is_read"`
}

// Before orders messages by creation time, ties broken by id so every
// participant converges on the same sequence.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID.String() < other.ID.String()
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// recommendationRef is the content payload of a medication_recommendation
// message.
type recommendationRef struct {
	RecommendationID uuid.UUID `json:"recommendation_id"`
}

// EncodeRecommendationRef builds the content of a medication_recommendation
// message.
func EncodeRecommendationRef(recommendationID uuid.UUID) string {
	raw, _ := json.Marshal(recommendationRef{RecommendationID: recommendationID})
	return string(raw)
}

// RecommendationID extracts the referenced recommendation from a
// medication_recommendation message.
func (m *Message) RecommendationID() (uuid.UUID, error) {
	if m.MessageType != TypeRecommendation {
		return uuid.Nil, fmt.Errorf("message %s is not a recommendation message", m.ID)
	}
	var ref recommendationRef
	if err := json.Unmarshal([]byte(m.Content), &ref); err != nil {
		return uuid.Nil, fmt.Errorf("decode recommendation ref: %w", err)
	}
	if ref.RecommendationID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("message %s has no recommendation id", m.ID)
	}
	return ref.RecommendationID, nil
}
