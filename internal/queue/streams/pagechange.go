package streams

import (
	"context"
	"fmt"
)

const (
	// StreamPageChanges is the default stream carrying page.changed events.
	StreamPageChanges  = "nova:page-changes"
	EventPageChanged   = "page.changed"
	PageChangedVersion = "v1"
)

// ChangeKind names what happened to a page.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeMoved    ChangeKind = "moved"
	ChangeCopied   ChangeKind = "copied"
	ChangeImported ChangeKind = "imported"
)

// PageChange is the page.changed payload.
type PageChange struct {
	ProjectID    string     `json:"project_id"`
	Path         string     `json:"path"`
	Change       ChangeKind `json:"change"`
	PreviousPath string     `json:"previous_path,omitempty"`
	Actor        string     `json:"actor,omitempty"`
}

// PageChangeNotifier receives page mutations. Implementations must be safe
// for concurrent use.
type PageChangeNotifier interface {
	PageChanged(ctx context.Context, change PageChange) error
}

// PageChangePublisher publishes page changes to a Redis stream.
type PageChangePublisher struct {
	pub    *Publisher
	stream string
}

// NewPageChangePublisher wraps pub. An empty stream uses StreamPageChanges.
func NewPageChangePublisher(pub *Publisher, stream string) *PageChangePublisher {
	if stream == "" {
		stream = StreamPageChanges
	}
	return &PageChangePublisher{pub: pub, stream: stream}
}

// PageChanged appends change to the stream.
func (p *PageChangePublisher) PageChanged(ctx context.Context, change PageChange) error {
	if _, err := p.pub.Publish(ctx, p.stream, EventPageChanged, PageChangedVersion, change); err != nil {
		return fmt.Errorf("publish page change %s %s: %w", change.Change, change.Path, err)
	}
	return nil
}

// DecodePageChange extracts a PageChange from a consumed message.
func DecodePageChange(msg Message) (PageChange, error) {
	var change PageChange
	if msg.Envelope.EventType != EventPageChanged {
		return change, fmt.Errorf("unexpected event type %q", msg.Envelope.EventType)
	}
	err := msg.Envelope.Decode(&change)
	return change, err
}
