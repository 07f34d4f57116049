package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/go-playground/validator/v10"

	"listing-dm/domain"
	dmerrors "listing-dm/errors"
)

// diskMessage is the row format at the storage boundary. Local-only fields
// (delivery state, provisional flag) never reach disk.
type diskMessage struct {
	ID         string `json:"id" validate:"required"`
	SenderID   string `json:"sender_id" validate:"required"`
	ReceiverID string `json:"receiver_id" validate:"required"`
	Content    string `json:"content" validate:"required"`
	At         int64  `json:"at" validate:"required"`
	IsRead     bool   `json:"is_read"`
	ContextID  string `json:"context_id,omitempty"`
	Language   string `json:"language,omitempty"`
}

func encodeMessage(m domain.Message) ([]byte, error) {
	return json.Marshal(diskMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		At:         m.CreatedAt.UnixNano(),
		IsRead:     m.IsRead,
		ContextID:  m.ContextID,
		Language:   m.Language,
	})
}

// decodeMessage turns a raw row into a validated domain record. Malformed
// rows fail closed with ErrMalformedRow; callers drop them instead of
// letting a single bad row poison the conversation.
func decodeMessage(raw []byte, validate *validator.Validate) (domain.Message, error) {
	var row diskMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", dmerrors.ErrMalformedRow, err)
	}
	if err := validate.Struct(row); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", dmerrors.ErrMalformedRow, err)
	}

	m := domain.Message{
		ID:         row.ID,
		SenderID:   row.SenderID,
		ReceiverID: row.ReceiverID,
		Content:    row.Content,
		CreatedAt:  time.Unix(0, row.At).UTC(),
		IsRead:     row.IsRead,
		ContextID:  row.ContextID,
		Language:   row.Language,
		Delivery:   domain.Sent,
	}
	if m.Language == "" {
		m.Language = detectLanguage(m.Content)
	}
	return m, nil
}

// detectLanguage returns a best-effort ISO 639-3 code, empty when the
// detector is not confident enough.
func detectLanguage(content string) string {
	info := whatlanggo.Detect(content)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6393()
}
