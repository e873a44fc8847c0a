package line

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMessages_RoundTrip(t *testing.T) {
	in := NewText("您好")
	data, err := json.Marshal([]Message{in})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out Messages
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Got %d messages, want 1", len(out))
	}
	got, ok := out[0].(TextMessage)
	if !ok {
		t.Fatalf("Got %T, want TextMessage", out[0])
	}
	if got.Type != MessageTypeText || got.Text != in.Text {
		t.Errorf("Got %+v, want %+v", got, in)
	}
}

func TestMessages_Unmarshal(t *testing.T) {
	data := `[
		{"type":"text","text":"hi","emojis":[{"index":0,"productId":"p1","emojiId":"e1"}]},
		{"type":"sticker","packageId":"446","stickerId":"1988"},
		{"type":"image","originalContentUrl":"https://example.com/a.jpg","previewImageUrl":"https://example.com/a_small.jpg"}
	]`

	var msgs Messages
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Got %d messages, want 3", len(msgs))
	}

	text := msgs[0].(TextMessage)
	if text.Text != "hi" || len(text.Emojis) != 1 || text.Emojis[0].ProductID != "p1" {
		t.Errorf("Unexpected text message: %+v", text)
	}
	sticker := msgs[1].(StickerMessage)
	if sticker.PackageID != "446" || sticker.StickerID != "1988" {
		t.Errorf("Unexpected sticker message: %+v", sticker)
	}
	image := msgs[2].(ImageMessage)
	if image.OriginalContentURL != "https://example.com/a.jpg" {
		t.Errorf("Unexpected image message: %+v", image)
	}
}

func TestMessages_UnmarshalUnknownType(t *testing.T) {
	var msgs Messages
	err := json.Unmarshal([]byte(`[{"type":"flex"}]`), &msgs)
	if err == nil {
		t.Fatal("Unknown message type should not decode")
	}
	if !strings.Contains(err.Error(), "flex") {
		t.Errorf("Error should name the type, got %v", err)
	}
}
