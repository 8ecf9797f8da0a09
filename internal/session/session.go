package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidInput is returned for empty or whitespace-only user text.
	ErrInvalidInput = errors.New("message text is empty")
	// ErrAlreadyInFlight is returned when a request is already awaiting a response.
	ErrAlreadyInFlight = errors.New("a request is already in flight")
)

// Role identifies who authored a message
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// Message represents a single chat message
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChangeKind tells listeners what happened to the history.
type ChangeKind int

const (
	ChangeAppended ChangeKind = iota
	ChangeReset
)

// Change is delivered to listeners after every append and reset. Message and
// Index are only set for ChangeAppended.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	Index          int
	Message        Message
}

// Listener is called synchronously, outside the store lock.
type Listener func(Change)

// Turn identifies one accepted submission. Snapshot is the history at the
// moment the user message was appended, that message included.
type Turn struct {
	ConversationID string
	Snapshot       []Message
	generation     uint64
}

// Store owns the ordered message history of one conversation and the flag
// that admits at most one outbound request at a time.
type Store struct {
	mu             sync.Mutex
	conversationID string
	generation     uint64
	messages       []Message
	awaiting       bool
	listeners      []Listener
	now            func() time.Time
}

// NewStore returns an empty store with a fresh conversation ID.
func NewStore() *Store {
	return &Store{
		conversationID: uuid.NewString(),
		messages:       []Message{},
		now:            time.Now,
	}
}

// Subscribe registers fn for history change notifications.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// AppendUser appends a user message. Blank text is rejected.
func (s *Store) AppendUser(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	change := s.appendLocked(RoleUser, text)
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// AppendAssistant appends an assistant message. Any text is accepted,
// including error descriptions.
func (s *Store) AppendAssistant(text string) {
	s.mu.Lock()
	change := s.appendLocked(RoleAssistant, text)
	s.mu.Unlock()

	s.notify(change)
}

// Reset empties the history, clears the in-flight flag and starts a new
// conversation ID. A reply still in flight for the old conversation is
// dropped when it settles.
func (s *Store) Reset() {
	s.mu.Lock()
	s.messages = []Message{}
	s.awaiting = false
	s.generation++
	s.conversationID = uuid.NewString()
	change := Change{Kind: ChangeReset, ConversationID: s.conversationID}
	s.mu.Unlock()

	s.notify(change)
}

// BeginRequest marks a request in flight, failing with ErrAlreadyInFlight if
// one already is.
func (s *Store) BeginRequest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awaiting {
		return ErrAlreadyInFlight
	}
	s.awaiting = true
	return nil
}

// EndRequest clears the in-flight flag. Calling it while idle is a no-op.
func (s *Store) EndRequest() {
	s.mu.Lock()
	s.awaiting = false
	s.mu.Unlock()
}

// BeginTurn appends the user message and marks the request in flight as a
// single step. On error nothing changes.
func (s *Store) BeginTurn(text string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, ErrInvalidInput
	}

	s.mu.Lock()
	if s.awaiting {
		s.mu.Unlock()
		return Turn{}, ErrAlreadyInFlight
	}
	change := s.appendLocked(RoleUser, text)
	s.awaiting = true
	turn := Turn{
		ConversationID: s.conversationID,
		Snapshot:       s.copyLocked(),
		generation:     s.generation,
	}
	s.mu.Unlock()

	s.notify(change)
	return turn, nil
}

// FinishTurn appends reply as the assistant message for turn and ends the
// request. It reports false, changing nothing, when the store was reset
// after the turn began.
func (s *Store) FinishTurn(turn Turn, reply string) bool {
	s.mu.Lock()
	if turn.generation != s.generation {
		s.mu.Unlock()
		return false
	}
	change := s.appendLocked(RoleAssistant, reply)
	s.awaiting = false
	s.mu.Unlock()

	s.notify(change)
	return true
}

// AbandonTurn ends the request for turn without appending anything.
func (s *Store) AbandonTurn(turn Turn) {
	s.mu.Lock()
	if turn.generation == s.generation {
		s.awaiting = false
	}
	s.mu.Unlock()
}

// Messages returns a copy of the history.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Len returns the number of messages in the history.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// AwaitingResponse reports whether a request is in flight.
func (s *Store) AwaitingResponse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}

// ConversationID identifies the current conversation; Reset replaces it.
func (s *Store) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Store) appendLocked(role Role, text string) Change {
	msg := Message{Role: role, Content: text, CreatedAt: s.now()}
	s.messages = append(s.messages, msg)
	return Change{
		Kind:           ChangeAppended,
		ConversationID: s.conversationID,
		Index:          len(s.messages) - 1,
		Message:        msg,
	}
}

func (s *Store) copyLocked() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) notify(change Change) {
	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}
