// Package usercontext learns a per-user, per-project profile from completed runs.
package usercontext

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/paolomoz/nova/internal/agent/core"
	"github.com/paolomoz/nova/internal/store"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// ErrLocked is returned when another accumulation for the same user and project holds the lock.
var ErrLocked = errors.New("user context is locked")

const (
	lockPrefix  = "nova:ctxlock:"
	lockTTL     = 10 * time.Second
	lockRetries = 20
	lockBackoff = 100 * time.Millisecond
)

// Store is the persistence the accumulator writes through.
type Store interface {
	GetUserContext(ctx context.Context, userID, projectID string) (store.UserContext, bool, error)
	IncrementToolFrequency(ctx context.Context, userID, projectID string, counts map[string]int) error
	RaiseExpertise(ctx context.Context, userID, projectID, level string, rank int) (bool, error)
	MergeActivePaths(ctx context.Context, userID, projectID string, merge func(stored []string) []string) ([]string, error)
}

// Accumulator applies the three profile updates for a completed run.
type Accumulator struct {
	store  Store
	rdb    *redis.Client
	logger *log.Logger
}

// New returns an accumulator. rdb may be nil, which disables the per-user lock.
func New(st Store, rdb *redis.Client) *Accumulator {
	return &Accumulator{
		store:  st,
		rdb:    rdb,
		logger: log.New(log.Writer(), "[CONTEXT] ", log.LstdFlags),
	}
}

var _ core.ContextAccumulator = (*Accumulator)(nil)

// Accumulate updates tool frequency, expertise and active paths concurrently.
// Each update is an atomic upsert and runs to completion even when another
// fails; the first failure is returned after all finish.
func (a *Accumulator) Accumulate(ctx context.Context, run core.CompletedRun) error {
	if run.UserID == "" || run.ProjectID == "" {
		return fmt.Errorf("accumulate run %s: user and project are required", run.RunID)
	}
	unlock, err := a.lock(ctx, run.UserID, run.ProjectID)
	if err != nil {
		return err
	}
	defer unlock()

	var g errgroup.Group
	g.Go(func() error {
		counts := toolCounts(run.ToolCalls)
		if len(counts) == 0 {
			return nil
		}
		if err := a.store.IncrementToolFrequency(ctx, run.UserID, run.ProjectID, counts); err != nil {
			return fmt.Errorf("tool frequency: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		level := ScoreExpertise(run.Prompt)
		raised, err := a.store.RaiseExpertise(ctx, run.UserID, run.ProjectID, level, Rank(level))
		if err != nil {
			return fmt.Errorf("expertise: %w", err)
		}
		if raised {
			a.logger.Printf("user %s on %s raised to %s", run.UserID, run.ProjectID, level)
		}
		return nil
	})
	g.Go(func() error {
		recent := TouchedPaths(run.ToolCalls)
		if len(recent) == 0 {
			return nil
		}
		_, err := a.store.MergeActivePaths(ctx, run.UserID, run.ProjectID, func(stored []string) []string {
			return MergePaths(stored, recent)
		})
		if err != nil {
			return fmt.Errorf("active paths: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Get returns the stored profile, or an empty beginner profile when none exists.
func (a *Accumulator) Get(ctx context.Context, userID, projectID string) (store.UserContext, error) {
	uc, ok, err := a.store.GetUserContext(ctx, userID, projectID)
	if err != nil {
		return store.UserContext{}, err
	}
	if !ok {
		return store.UserContext{
			UserID:         userID,
			ProjectID:      projectID,
			ToolFrequency:  map[string]int{},
			ExpertiseLevel: LevelBeginner,
			ActivePaths:    []string{},
		}, nil
	}
	return uc, nil
}

func toolCounts(calls []core.ToolCall) map[string]int {
	counts := make(map[string]int)
	for _, c := range calls {
		if c.Name != "" {
			counts[c.Name]++
		}
	}
	return counts
}

// lock takes a SET NX PX lock on the (user, project) pair, retrying briefly.
func (a *Accumulator) lock(ctx context.Context, userID, projectID string) (func(), error) {
	if a.rdb == nil {
		return func() {}, nil
	}
	key := lockPrefix + userID + ":" + projectID
	token := uuid.NewString()
	for attempt := 0; attempt < lockRetries; attempt++ {
		ok, err := a.rdb.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			// best effort: the upserts are atomic without it
			a.logger.Printf("warn: context lock %s: %v", key, err)
			return func() {}, nil
		}
		if ok {
			return func() { a.release(key, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, key)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (a *Accumulator) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, a.rdb, []string{key}, token).Err(); err != nil {
		a.logger.Printf("warn: release context lock %s: %v", key, err)
	}
}
