package orchestrator

import (
	"context"

	"github.com/basket/tg-live/internal/channels"
)

// Echo is the default orchestrator: it replies with the inbound text
// unchanged. Empty-text inbound messages produce no outbound.
type Echo struct{}

func NewEcho() *Echo { return &Echo{} }

func (e *Echo) HandleMessage(_ context.Context, msg channels.InboundMessage) Result {
	if msg.Text == "" {
		return Result{}
	}
	return Result{
		Outbound: &channels.OutboundMessage{
			ChatID:          msg.ChatID,
			Text:            msg.Text,
			ReplyToUpdateID: msg.UpdateID,
		},
	}
}
