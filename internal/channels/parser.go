package channels

import (
	"encoding/json"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SkipReason is a stable code naming why a raw update did not become an
// InboundMessage (spec.md §4.1).
type SkipReason string

const (
	SkipMissingMessage         SkipReason = "missing-message"
	SkipUnsupportedUpdateType  SkipReason = "unsupported-update-type"
	SkipMissingChat            SkipReason = "missing-chat"
	SkipMissingUser            SkipReason = "missing-user"
	SkipEmptyText              SkipReason = "empty-text"
)

// ParsePolicy controls the one parser behavior the spec leaves to the
// operator: whether an empty message.text is parsed (default) or skipped.
type ParsePolicy struct {
	// ForbidEmptyText, when true, yields SkipEmptyText for a present but
	// empty message.text instead of an InboundMessage with Text == "".
	ForbidEmptyText bool
}

// rawUpdateEnvelope mirrors just enough of tgbotapi.Update to let the
// parser distinguish "no message field at all" (missing-message) from
// "message present but not text-bearing" (handled field-by-field below)
// without depending on tgbotapi's zero-value Message, which cannot be told
// apart from an absent one once unmarshalled.
type rawUpdateEnvelope struct {
	UpdateID int64           `json:"update_id"`
	Message  json.RawMessage `json:"message"`
}

// ParseUpdate converts one raw upstream update into an InboundMessage, or
// reports the stable reason it was skipped. ParseUpdate is pure: it
// performs no I/O, reads no clock, and does not mutate raw.
func ParseUpdate(raw []byte, policy ParsePolicy) (*InboundMessage, SkipReason, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, "", err
	}
	if !validateUpdateShape(generic) {
		return nil, SkipUnsupportedUpdateType, nil
	}

	var envelope rawUpdateEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, "", err
	}
	if len(envelope.Message) == 0 || string(envelope.Message) == "null" {
		return nil, SkipMissingMessage, nil
	}

	var msg tgbotapi.Message
	if err := json.Unmarshal(envelope.Message, &msg); err != nil {
		return nil, "", err
	}

	if msg.Chat == nil || msg.Chat.ID == 0 {
		return nil, SkipMissingChat, nil
	}
	if msg.From == nil || msg.From.ID == 0 {
		return nil, SkipMissingUser, nil
	}
	if msg.Text == "" && policy.ForbidEmptyText {
		return nil, SkipEmptyText, nil
	}

	return &InboundMessage{
		UpdateID:     strconv.FormatInt(envelope.UpdateID, 10),
		ChatID:       strconv.FormatInt(msg.Chat.ID, 10),
		UserID:       strconv.FormatInt(msg.From.ID, 10),
		Text:         msg.Text,
		ReceivedTsMs: int64(msg.Date) * 1000,
	}, "", nil
}

// RawUpdateID extracts only the update_id from a raw update, for use when a
// message fails to parse (e.g. an edit or callback) but the adapter still
// needs the id to advance its poll offset deterministically.
func RawUpdateID(raw []byte) (int64, bool) {
	var envelope rawUpdateEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return 0, false
	}
	return envelope.UpdateID, true
}
