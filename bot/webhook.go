package bot

// Webhook event types delivered by the platform. Anything outside this
// set is ignored by the dispatcher, not rejected.
const (
	EventTypeJoin     = "join"
	EventTypeMessage  = "message"
	EventTypeFollow   = "follow"
	EventTypeUnfollow = "unfollow"
	EventTypeLeave    = "leave"
)

// Source types carried on webhook events.
const (
	SourceTypeGroup = "group"
	SourceTypeUser  = "user"
	SourceTypeRoom  = "room"
)

// A WebhookRequest is the body of one webhook delivery: an ordered batch
// of events for this bot's channel.
type WebhookRequest struct {
	Destination string  `json:"destination,omitempty"`
	Events      []Event `json:"events"`
}

// An Event is a single inbound webhook event.
type Event struct {
	Type       string        `json:"type"`
	Source     Source        `json:"source"`
	ReplyToken string        `json:"replyToken,omitempty"`
	Message    *EventMessage `json:"message,omitempty"`
}

// A Source identifies where an event originated. Exactly one of the id
// fields is set, matching Type.
type Source struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId,omitempty"`
	UserID  string `json:"userId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// An EventMessage is the message payload of a message event.
type EventMessage struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}
