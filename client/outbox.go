package client

import (
	"time"

	"github.com/google/uuid"

	"github.com/converse/messaging/internal/protocol"
)

// SendState is the lifecycle of an optimistic send.
type SendState int

const (
	SendPending SendState = iota
	SendConfirmed
	SendFailed
)

// PendingSend is one outbound message awaiting server confirmation.
type PendingSend struct {
	TempID  string
	Conv    ConversationKey
	Content string
	State   SendState
	SentAt  time.Time
}

// Outbox tracks optimistic sends from emission until the echoed temp id
// comes back on a message:new push. There is no automatic retry: a failed
// send stays failed until the user retries (which mints a fresh temp id)
// or discards it. Not safe for concurrent use; the Client serializes
// access.
type Outbox struct {
	pending map[string]*PendingSend
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{pending: make(map[string]*PendingSend)}
}

// Add registers a new send and returns its temp id.
func (o *Outbox) Add(conv ConversationKey, content string) *PendingSend {
	p := &PendingSend{
		TempID:  uuid.NewString(),
		Conv:    conv,
		Content: content,
		State:   SendPending,
		SentAt:  time.Now(),
	}
	o.pending[p.TempID] = p
	return p
}

// Confirm resolves a pending send by its echoed temp id. Unknown temp ids
// are ignored: other participants receive the same echo and must not
// react to it. Replayed confirmations are no-ops.
func (o *Outbox) Confirm(tempID string) bool {
	p, ok := o.pending[tempID]
	if !ok || p.State != SendPending {
		return false
	}
	p.State = SendConfirmed
	delete(o.pending, tempID)
	return true
}

// Fail marks a pending send as failed. The entry is kept for retry.
func (o *Outbox) Fail(tempID string) bool {
	p, ok := o.pending[tempID]
	if !ok || p.State != SendPending {
		return false
	}
	p.State = SendFailed
	return true
}

// FailAll marks every pending send as failed and returns their temp ids.
// Used when the server reports an error that cannot be attributed to a
// single send, such as a rate limit.
func (o *Outbox) FailAll() []string {
	var failed []string
	for id, p := range o.pending {
		if p.State == SendPending {
			p.State = SendFailed
			failed = append(failed, id)
		}
	}
	return failed
}

// Retry re-queues a failed send under a fresh temp id, so a late
// confirmation of the original can never double-apply. It returns the new
// pending entry, or nil if tempID is unknown or not failed.
func (o *Outbox) Retry(tempID string) *PendingSend {
	p, ok := o.pending[tempID]
	if !ok || p.State != SendFailed {
		return nil
	}
	delete(o.pending, tempID)
	return o.Add(p.Conv, p.Content)
}

// Discard drops a send without retrying.
func (o *Outbox) Discard(tempID string) {
	delete(o.pending, tempID)
}

// Get returns the pending send for tempID, if any.
func (o *Outbox) Get(tempID string) (*PendingSend, bool) {
	p, ok := o.pending[tempID]
	return p, ok
}

// OptimisticMessage builds the local history entry for a pending send.
func (o *Outbox) OptimisticMessage(p *PendingSend, sender Identity) protocol.Message {
	m := protocol.Message{
		Kind:       p.Conv.Kind,
		TempID:     p.TempID,
		SenderID:   sender.UserID,
		SenderName: sender.DisplayName,
		Content:    p.Content,
		CreatedAt:  p.SentAt.UnixMilli(),
	}
	if p.Conv.Kind == protocol.KindGroup {
		m.RoomID = p.Conv.ID
	} else {
		m.RecipientID = p.Conv.ID
	}
	return m
}
