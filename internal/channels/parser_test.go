package channels

import "testing"

func textUpdateJSON(updateID int64, chatID int64, userID int64, text string, date int64) []byte {
	return []byte(`{"update_id":` + itoa(updateID) + `,"message":{"message_id":1,"date":` + itoa(date) +
		`,"chat":{"id":` + itoa(chatID) + `},"from":{"id":` + itoa(userID) + `},"text":"` + text + `"}}`)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestParseUpdateHappyPath(t *testing.T) {
	raw := textUpdateJSON(100, 42, 7, "hi", 1700000000)
	msg, reason, err := ParseUpdate(raw, ParsePolicy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != "" {
		t.Fatalf("expected no skip reason, got %q", reason)
	}
	if msg.UpdateID != "100" || msg.ChatID != "42" || msg.UserID != "7" || msg.Text != "hi" {
		t.Fatalf("unexpected parsed message: %+v", msg)
	}
	if msg.ReceivedTsMs != 1700000000000 {
		t.Fatalf("expected received_ts_ms derived from message date, got %d", msg.ReceivedTsMs)
	}
}

func TestParseUpdateIsDeterministic(t *testing.T) {
	raw := textUpdateJSON(100, 42, 7, "hi", 1700000000)
	a, _, _ := ParseUpdate(raw, ParsePolicy{})
	b, _, _ := ParseUpdate(raw, ParsePolicy{})
	if *a != *b {
		t.Fatalf("expected identical parse results for identical input: %+v vs %+v", a, b)
	}
}

func TestParseUpdateMissingMessage(t *testing.T) {
	raw := []byte(`{"update_id":101}`)
	_, reason, err := ParseUpdate(raw, ParsePolicy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != SkipMissingMessage {
		t.Fatalf("expected missing-message, got %q", reason)
	}
}

func TestParseUpdateMissingChat(t *testing.T) {
	raw := []byte(`{"update_id":102,"message":{"message_id":1,"date":1,"from":{"id":7},"text":"hi"}}`)
	_, reason, err := ParseUpdate(raw, ParsePolicy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != SkipMissingChat {
		t.Fatalf("expected missing-chat, got %q", reason)
	}
}

func TestParseUpdateMissingUser(t *testing.T) {
	raw := []byte(`{"update_id":103,"message":{"message_id":1,"date":1,"chat":{"id":42},"text":"hi"}}`)
	_, reason, err := ParseUpdate(raw, ParsePolicy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != SkipMissingUser {
		t.Fatalf("expected missing-user, got %q", reason)
	}
}

func TestParseUpdateEmptyTextAllowedByDefault(t *testing.T) {
	raw := textUpdateJSON(104, 42, 7, "", 1)
	msg, reason, err := ParseUpdate(raw, ParsePolicy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != "" {
		t.Fatalf("expected empty text to be allowed by default, got skip %q", reason)
	}
	if msg.Text != "" {
		t.Fatalf("expected empty text")
	}
}

func TestParseUpdateEmptyTextForbidden(t *testing.T) {
	raw := textUpdateJSON(105, 42, 7, "", 1)
	_, reason, err := ParseUpdate(raw, ParsePolicy{ForbidEmptyText: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != SkipEmptyText {
		t.Fatalf("expected empty-text skip, got %q", reason)
	}
}

func TestParseUpdateUnsupportedShape(t *testing.T) {
	raw := []byte(`[1,2,3]`)
	_, reason, err := ParseUpdate(raw, ParsePolicy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != SkipUnsupportedUpdateType {
		t.Fatalf("expected unsupported-update-type, got %q", reason)
	}
}

func TestRawUpdateID(t *testing.T) {
	raw := []byte(`{"update_id":42,"edited_message":{}}`)
	id, ok := RawUpdateID(raw)
	if !ok || id != 42 {
		t.Fatalf("expected update id 42, got %d ok=%v", id, ok)
	}
}
