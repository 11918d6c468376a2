package core

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDSource allocates identifiers for runs and insights.
type IDSource interface {
	NewID() string
}

// UUIDs allocates random UUIDs.
type UUIDs struct{}

func (UUIDs) NewID() string { return uuid.NewString() }

// Counter allocates prefix-1, prefix-2, ... and is meant for tests.
type Counter struct {
	Prefix string
	n      atomic.Int64
}

func (c *Counter) NewID() string {
	return fmt.Sprintf("%s-%d", c.Prefix, c.n.Add(1))
}
