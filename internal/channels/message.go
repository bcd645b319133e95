// Package channels implements the transport adapter: the update parser,
// the Telegram API client, and the channel adapter that composes them with
// the cursor store (spec.md §4.1-§4.4).
package channels

// InboundMessage is an immutable, parsed text update (spec.md §3).
type InboundMessage struct {
	UpdateID     string
	ChatID       string
	UserID       string
	Text         string
	ReceivedTsMs int64
}

// OutboundMessage is produced by an orchestrator and sent back through the
// channel adapter (spec.md §3).
type OutboundMessage struct {
	ChatID          string
	Text            string
	ReplyToUpdateID string
}
