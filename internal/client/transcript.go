package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gaspardpetit/liverelay/internal/event"
)

// Kind classifies a transcript message.
type Kind string

const (
	KindUser   Kind = "user"
	KindAI     Kind = "ai"
	KindSystem Kind = "system"
	KindError  Kind = "error"
)

// WelcomeMessage opens every transcript.
const WelcomeMessage = "Welcome! Connect to Gemini Live, optionally start screen capture, then ask a question."

// Message is one transcript entry.
type Message struct {
	ID        string
	Kind      Kind
	Content   string
	Streaming bool
	Frames    int
	At        time.Time
}

// Transcript is the ordered conversation log. Snapshots are copies.
type Transcript struct {
	mu       sync.Mutex
	messages []Message
	bus      event.Bus[Message]
}

// NewTranscript returns a transcript holding the welcome message.
func NewTranscript() *Transcript {
	t := &Transcript{}
	t.Add(KindSystem, WelcomeMessage)
	return t
}

// Subscribe calls fn with every added or updated message.
func (t *Transcript) Subscribe(fn func(Message)) (unsubscribe func()) {
	return t.bus.Subscribe(fn)
}

// Add appends a message and returns it.
func (t *Transcript) Add(kind Kind, content string) Message {
	return t.add(Message{Kind: kind, Content: content})
}

func (t *Transcript) add(m Message) Message {
	m.ID = uuid.NewString()
	m.At = time.Now()
	t.mu.Lock()
	t.messages = append(t.messages, m)
	t.mu.Unlock()
	t.bus.Publish(m)
	return m
}

// Update applies fn to the message with id. It reports false when id is
// unknown.
func (t *Transcript) Update(id string, fn func(*Message)) bool {
	t.mu.Lock()
	var updated Message
	found := false
	for i := range t.messages {
		if t.messages[i].ID == id {
			fn(&t.messages[i])
			updated = t.messages[i]
			found = true
			break
		}
	}
	t.mu.Unlock()
	if found {
		t.bus.Publish(updated)
	}
	return found
}

// Get returns the message with id.
func (t *Transcript) Get(id string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Messages returns a copy of the log.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.messages...)
}

// Last returns the most recent message.
func (t *Transcript) Last() (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}
