// Package line holds the wire types and REST client for the LINE
// messaging platform.
package line

import (
	"encoding/json"
	"fmt"
	"io"
)

// newEncoder returns an encoder that leaves text as-is on the wire; the
// default HTML escaping would mangle message bodies containing < or &.
func newEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// Message kinds understood by the platform's send endpoints.
const (
	MessageTypeText    = "text"
	MessageTypeSticker = "sticker"
	MessageTypeImage   = "image"
)

// A Message is a single outbound message. The concrete types carry a
// "type" discriminant recognised by the platform.
type Message interface {
	messageType() string
}

// A TextMessage renders as plain text, optionally with inline emojis.
type TextMessage struct {
	Type   string  `json:"type"`
	Text   string  `json:"text"`
	Emojis []Emoji `json:"emojis,omitempty"`
}

// An Emoji substitutes a platform emoji at an index within the text.
type Emoji struct {
	Index     int    `json:"index"`
	ProductID string `json:"productId"`
	EmojiID   string `json:"emojiId"`
}

// NewText returns a text message.
func NewText(text string) TextMessage {
	return TextMessage{Type: MessageTypeText, Text: text}
}

func (TextMessage) messageType() string { return MessageTypeText }

// A StickerMessage renders a sticker from a sticker package.
type StickerMessage struct {
	Type      string `json:"type"`
	PackageID string `json:"packageId"`
	StickerID string `json:"stickerId"`
}

// NewSticker returns a sticker message.
func NewSticker(packageID, stickerID string) StickerMessage {
	return StickerMessage{Type: MessageTypeSticker, PackageID: packageID, StickerID: stickerID}
}

func (StickerMessage) messageType() string { return MessageTypeSticker }

// An ImageMessage renders an image with a preview thumbnail.
type ImageMessage struct {
	Type               string `json:"type"`
	OriginalContentURL string `json:"originalContentUrl"`
	PreviewImageURL    string `json:"previewImageUrl"`
}

// NewImage returns an image message.
func NewImage(originalContentURL, previewImageURL string) ImageMessage {
	return ImageMessage{Type: MessageTypeImage, OriginalContentURL: originalContentURL, PreviewImageURL: previewImageURL}
}

func (ImageMessage) messageType() string { return MessageTypeImage }

// Messages is a batch of outbound messages. Unmarshalling dispatches on
// each element's "type" field; an unrecognised type is an error, since
// the batch is about to be sent as-is.
type Messages []Message

func (ms *Messages) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Messages, 0, len(raws))
	for _, raw := range raws {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return err
		}
		var (
			msg Message
			err error
		)
		switch head.Type {
		case MessageTypeText:
			var m TextMessage
			err = json.Unmarshal(raw, &m)
			msg = m
		case MessageTypeSticker:
			var m StickerMessage
			err = json.Unmarshal(raw, &m)
			msg = m
		case MessageTypeImage:
			var m ImageMessage
			err = json.Unmarshal(raw, &m)
			msg = m
		default:
			return fmt.Errorf("unknown message type %q", head.Type)
		}
		if err != nil {
			return err
		}
		out = append(out, msg)
	}
	*ms = out
	return nil
}
