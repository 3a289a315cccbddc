package chat

// Message is one entry in a conversation transcript, supplied by the UI
// layer and stored verbatim.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Record is one conversation: an ordered transcript plus metadata. Records
// missing either URLID or Description are in-progress conversations and are
// hidden from history lists by the UI layer.
type Record struct {
	ID          string    `json:"id"`
	URLID       string    `json:"urlId,omitempty"`
	Description string    `json:"description,omitempty"`
	Messages    []Message `json:"messages"`
	Timestamp   string    `json:"timestamp"`
}
