package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/basket/tg-live/internal/diagnostics"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TransportErrorKind classifies why a Telegram API call failed (spec.md
// §4.2).
type TransportErrorKind string

const (
	KindTimeout         TransportErrorKind = "timeout"
	KindNetworkError    TransportErrorKind = "network-error"
	KindHTTPError       TransportErrorKind = "http-error"
	KindAPIError        TransportErrorKind = "api-error"
	KindInvalidResponse TransportErrorKind = "invalid-response"
)

// TransportError is the structured outcome of a failed API call.
type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int
	ErrorCode  int
	Retryable  bool
	Operation  string
	Message    string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s (kind=%s retryable=%v)", e.Operation, e.Message, e.Kind, e.Retryable)
}

const (
	maxAttempts      = 3
	retryBaseDelay   = 250 * time.Millisecond
	rateLimitCeiling = 30 * time.Second
)

// RawUpdate is one item returned by GetUpdates: the raw JSON bytes (fed to
// ParseUpdate) plus its update_id, extracted once so the adapter never
// re-derives it.
type RawUpdate struct {
	Raw      []byte
	UpdateID int64
}

// APIClient implements the two upstream operations of spec.md §4.2 on top
// of go-telegram-bot-api/telegram-bot-api/v5, which already speaks the
// Telegram Bot API wire shape. APIClient owns the bounded-retry policy;
// the underlying library is used only for a single request/response round
// trip per attempt.
type APIClient struct {
	bot *tgbotapi.BotAPI
}

// NewAPIClient authenticates against the Telegram Bot API using token and
// returns a ready client.
func NewAPIClient(token string) (*APIClient, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth failed: %w", err)
	}
	return &APIClient{bot: bot}, nil
}

// GetUpdates long-polls for updates with offset starting at offset,
// waiting up to timeoutS seconds and returning at most limit updates.
func (c *APIClient) GetUpdates(ctx context.Context, offset int64, timeoutS int, limit int) ([]RawUpdate, error) {
	params := tgbotapi.Params{}
	params["offset"] = strconv.FormatInt(offset, 10)
	params["timeout"] = strconv.Itoa(timeoutS)
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	result, err := c.callWithRetry(ctx, diagnostics.OpFetchUpdates, func() (json.RawMessage, error) {
		resp, err := c.bot.MakeRequest("getUpdates", params)
		if err != nil {
			return nil, err
		}
		return resp.Result, nil
	})
	if err != nil {
		return nil, err
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal(result, &rawItems); err != nil {
		return nil, &TransportError{
			Kind:      KindInvalidResponse,
			Retryable: false,
			Operation: diagnostics.OpFetchUpdates,
			Message:   fmt.Sprintf("decode getUpdates result: %v", err),
		}
	}

	updates := make([]RawUpdate, 0, len(rawItems))
	for _, item := range rawItems {
		id, ok := RawUpdateID(item)
		if !ok {
			continue
		}
		updates = append(updates, RawUpdate{Raw: item, UpdateID: id})
	}
	return updates, nil
}

// SendMessage posts a reply. replyToUpdateID, when non-empty, is honored
// as Telegram's reply_to_message_id is not the same id space as
// update_id in general, but for plain text messages the message_id of the
// inbound update and its update_id are carried separately upstream; the
// channel adapter is responsible for mapping OutboundMessage.ReplyToUpdateID
// to the correct message_id before calling SendMessage when that mapping
// is available. When absent, no reply threading is requested.
func (c *APIClient) SendMessage(ctx context.Context, out OutboundMessage) error {
	params := tgbotapi.Params{}
	params["chat_id"] = out.ChatID
	params["text"] = out.Text
	if out.ReplyToUpdateID != "" {
		params["reply_to_message_id"] = out.ReplyToUpdateID
	}

	_, err := c.callWithRetry(ctx, diagnostics.OpSendMessage, func() (json.RawMessage, error) {
		resp, err := c.bot.MakeRequest("sendMessage", params)
		if err != nil {
			return nil, err
		}
		return resp.Result, nil
	})
	return err
}

// callWithRetry runs attempt up to maxAttempts times, classifying each
// failure and honoring any suggested retry_after, then returns the
// classified *TransportError of the final attempt if every attempt failed.
func (c *APIClient) callWithRetry(ctx context.Context, operation string, attempt func() (json.RawMessage, error)) (json.RawMessage, error) {
	var lastErr *TransportError
	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, &TransportError{Kind: KindTimeout, Retryable: true, Operation: operation, Message: err.Error()}
		}

		result, err := attempt()
		if err == nil {
			return result, nil
		}

		lastErr = classifyError(operation, err)
		if !lastErr.Retryable || i == maxAttempts-1 {
			return nil, lastErr
		}

		wait := retryBaseDelay * time.Duration(1<<uint(i))
		if retryAfter, ok := retryAfterFrom(err); ok {
			wait = retryAfter
			if wait > rateLimitCeiling {
				wait = rateLimitCeiling
			}
		}
		select {
		case <-ctx.Done():
			return nil, &TransportError{Kind: KindTimeout, Retryable: true, Operation: operation, Message: ctx.Err().Error()}
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// classifyError maps a raw error from the tgbotapi client into the
// structured transport error shape of spec.md §4.2.
func classifyError(operation string, err error) *TransportError {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		retryable := apiErr.Code >= 500 || apiErr.ResponseParameters.RetryAfter > 0
		return &TransportError{
			Kind:       KindAPIError,
			StatusCode: apiErr.Code,
			ErrorCode:  apiErr.Code,
			Retryable:  retryable,
			Operation:  operation,
			Message:    apiErr.Message,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &TransportError{Kind: KindTimeout, Retryable: true, Operation: operation, Message: err.Error()}
		}
		return &TransportError{Kind: KindNetworkError, Retryable: true, Operation: operation, Message: err.Error()}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &TransportError{Kind: KindNetworkError, Retryable: true, Operation: operation, Message: err.Error()}
	}

	var jsonErr *json.SyntaxError
	if errors.As(err, &jsonErr) {
		return &TransportError{Kind: KindInvalidResponse, Retryable: false, Operation: operation, Message: err.Error()}
	}

	// Unclassified errors are treated as HTTP-level failures: retryable,
	// since the failure mode (a non-2xx status the library turned into a
	// generic error) is typically transient.
	return &TransportError{Kind: KindHTTPError, Retryable: true, Operation: operation, Message: err.Error()}
}

// retryAfterFrom extracts a suggested wait duration from a rate-limit
// classified API error, if present.
func retryAfterFrom(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.ResponseParameters.RetryAfter > 0 {
		return time.Duration(apiErr.ResponseParameters.RetryAfter) * time.Second, true
	}
	return 0, false
}
