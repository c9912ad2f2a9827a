package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentrelay/agentrelay/core"
)

// Store bundles one in-memory implementation of every core repository port.
// The repositories are safe for concurrent access; callers still serialize
// read-then-write session/handoff sequences per conversation (see
// core.KeyedMutex).
type Store struct {
	Conversations *Conversations
	Messages      *Messages
	Sessions      *Sessions
	Handoffs      *Handoffs
	Snapshots     *Snapshots
}

// NewStore constructs an empty in-memory store. A nil clock falls back to
// the system clock; it is only used for conversation creation timestamps.
func NewStore(clock core.Clock) *Store {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Store{
		Conversations: &Conversations{clock: clock, conversations: make(map[string]*core.Conversation)},
		Messages:      &Messages{byID: make(map[string]*core.Message), byConversation: make(map[string][]*core.Message), sequences: make(map[string]map[int64]bool)},
		Sessions:      &Sessions{sessions: make(map[string]*core.AgentSession)},
		Handoffs:      &Handoffs{handoffs: make(map[string]*core.Handoff)},
		Snapshots:     &Snapshots{snapshots: make(map[string]*core.ContextSnapshot)},
	}
}

// Compile-time port checks.
var (
	_ core.ConversationRepository = (*Conversations)(nil)
	_ core.MessageRepository      = (*Messages)(nil)
	_ core.SessionRepository      = (*Sessions)(nil)
	_ core.HandoffRepository      = (*Handoffs)(nil)
	_ core.SnapshotRepository     = (*Snapshots)(nil)
)

// Conversations is a volatile core.ConversationRepository.
type Conversations struct {
	mu            sync.RWMutex
	clock         core.Clock
	conversations map[string]*core.Conversation
}

// Ensure returns the conversation, creating an active one if absent.
func (r *Conversations) Ensure(_ context.Context, conversationID string) (*core.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conversations[conversationID]; ok {
		return c.Clone(), nil
	}
	c := core.NewConversation(conversationID, r.clock.Now())
	r.conversations[conversationID] = c
	return c.Clone(), nil
}

// FindByID returns the conversation or (nil, nil) when absent.
func (r *Conversations) FindByID(_ context.Context, conversationID string) (*core.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

// Messages is a volatile core.MessageRepository.
type Messages struct {
	mu             sync.RWMutex
	byID           map[string]*core.Message
	byConversation map[string][]*core.Message // ascending by sequence
	sequences      map[string]map[int64]bool
}

// Append stores a message, rejecting identity collisions before ordering
// collisions so the caller can tell the two apart.
func (r *Messages) Append(_ context.Context, msg *core.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[msg.ID]; ok {
		return fmt.Errorf("message %s: %w", msg.ID, core.ErrDuplicateMessageID)
	}
	taken := r.sequences[msg.ConversationID]
	if taken == nil {
		taken = make(map[int64]bool)
		r.sequences[msg.ConversationID] = taken
	}
	if taken[msg.SequenceNumber] {
		return fmt.Errorf("conversation %s sequence %d: %w", msg.ConversationID, msg.SequenceNumber, core.ErrDuplicateSequence)
	}
	stored := msg.Clone()
	r.byID[msg.ID] = stored
	taken[msg.SequenceNumber] = true
	list := r.byConversation[msg.ConversationID]
	idx := sort.Search(len(list), func(i int) bool { return list[i].SequenceNumber > stored.SequenceNumber })
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = stored
	r.byConversation[msg.ConversationID] = list
	return nil
}

// FindByConversation returns clones of the conversation's messages in
// ascending sequence order.
func (r *Messages) FindByConversation(_ context.Context, conversationID string) ([]*core.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byConversation[conversationID]
	out := make([]*core.Message, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out, nil
}

// Sessions is a volatile core.SessionRepository.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*core.AgentSession
}

// Save stores a clone of the session snapshot, overwriting any prior state.
func (r *Sessions) Save(_ context.Context, session *core.AgentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session.Clone()
	return nil
}

// FindByID returns the session or (nil, nil) when absent.
func (r *Sessions) FindByID(_ context.Context, sessionID string) (*core.AgentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

// FindActiveForConversation returns the at-most-one Active session for the
// conversation, or (nil, nil) when there is none.
func (r *Sessions) FindActiveForConversation(_ context.Context, conversationID string) (*core.AgentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		if sess.ConversationID == conversationID && sess.State == core.SessionActive {
			return sess.Clone(), nil
		}
	}
	return nil, nil
}

// FindByConversation returns the conversation's sessions ordered by start
// time, then id for determinism.
func (r *Sessions) FindByConversation(_ context.Context, conversationID string) ([]*core.AgentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*core.AgentSession
	for _, sess := range r.sessions {
		if sess.ConversationID == conversationID {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Handoffs is a volatile core.HandoffRepository.
type Handoffs struct {
	mu       sync.RWMutex
	handoffs map[string]*core.Handoff
}

// Save stores a clone of the handoff, overwriting any prior state.
func (r *Handoffs) Save(_ context.Context, handoff *core.Handoff) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handoffs[handoff.ID] = handoff.Clone()
	return nil
}

// FindByID returns the handoff or (nil, nil) when absent.
func (r *Handoffs) FindByID(_ context.Context, handoffID string) (*core.Handoff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handoffs[handoffID]
	if !ok {
		return nil, nil
	}
	return h.Clone(), nil
}

// FindByConversation returns handoffs ordered by initiation time, then id.
func (r *Handoffs) FindByConversation(_ context.Context, conversationID string) ([]*core.Handoff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*core.Handoff
	for _, h := range r.handoffs {
		if h.ConversationID == conversationID {
			out = append(out, h.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InitiatedAt.Equal(out[j].InitiatedAt) {
			return out[i].InitiatedAt.Before(out[j].InitiatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Snapshots is a volatile core.SnapshotRepository.
type Snapshots struct {
	mu        sync.RWMutex
	snapshots map[string]*core.ContextSnapshot
}

// Save stores a snapshot. Snapshots are immutable so an existing id is
// rejected.
func (r *Snapshots) Save(_ context.Context, snapshot *core.ContextSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.snapshots[snapshot.ID]; ok {
		return fmt.Errorf("snapshot %s already captured", snapshot.ID)
	}
	r.snapshots[snapshot.ID] = snapshot.Clone()
	return nil
}

// FindByID returns the snapshot or (nil, nil) when absent.
func (r *Snapshots) FindByID(_ context.Context, snapshotID string) (*core.ContextSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[snapshotID]
	if !ok {
		return nil, nil
	}
	return snap.Clone(), nil
}

// FindBySession returns the session's snapshots ordered by capture time,
// then id.
func (r *Snapshots) FindBySession(_ context.Context, sessionID string) ([]*core.ContextSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*core.ContextSnapshot
	for _, snap := range r.snapshots {
		if snap.SessionID == sessionID {
			out = append(out, snap.Clone())
		}
	}
	sortSnapshots(out)
	return out, nil
}

// FindByConversation returns the conversation's snapshots ordered by capture
// time, then id.
func (r *Snapshots) FindByConversation(_ context.Context, conversationID string) ([]*core.ContextSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*core.ContextSnapshot
	for _, snap := range r.snapshots {
		if snap.ConversationID == conversationID {
			out = append(out, snap.Clone())
		}
	}
	sortSnapshots(out)
	return out, nil
}

func sortSnapshots(snaps []*core.ContextSnapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].CapturedAt.Equal(snaps[j].CapturedAt) {
			return snaps[i].CapturedAt.Before(snaps[j].CapturedAt)
		}
		return snaps[i].ID < snaps[j].ID
	})
}
