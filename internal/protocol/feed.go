package protocol

// Message types on the websocket status feed.
const (
	FeedStatus = "status"
	FeedPing   = "ping"
	FeedPong   = "pong"
)

// FeedMessage is one JSON frame on the status feed. Status is set only for
// FeedStatus frames.
type FeedMessage struct {
	Type   string  `json:"type"`
	Status *Status `json:"status,omitempty"`
}
