package usercontext

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paolomoz/nova/internal/agent/core"
	"github.com/paolomoz/nova/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	freq     map[string]int
	level    string
	rank     int
	paths    []string
	exists   bool
	pathsErr error
}

func newMemStore() *memStore { return &memStore{freq: map[string]int{}, level: LevelBeginner} }

func (m *memStore) GetUserContext(ctx context.Context, userID, projectID string) (store.UserContext, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return store.UserContext{}, false, nil
	}
	freq := make(map[string]int, len(m.freq))
	for k, v := range m.freq {
		freq[k] = v
	}
	return store.UserContext{UserID: userID, ProjectID: projectID, ToolFrequency: freq, ExpertiseLevel: m.level, ExpertiseRank: m.rank, ActivePaths: append([]string(nil), m.paths...)}, true, nil
}

func (m *memStore) IncrementToolFrequency(ctx context.Context, userID, projectID string, counts map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = true
	for k, v := range counts {
		m.freq[k] += v
	}
	return nil
}

func (m *memStore) RaiseExpertise(ctx context.Context, userID, projectID, level string, rank int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = true
	if rank <= m.rank && m.level != "" {
		return false, nil
	}
	m.level, m.rank = level, rank
	return true, nil
}

func (m *memStore) MergeActivePaths(ctx context.Context, userID, projectID string, merge func([]string) []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pathsErr != nil {
		return nil, m.pathsErr
	}
	m.exists = true
	m.paths = merge(m.paths)
	return m.paths, nil
}

func run(prompt string, calls ...core.ToolCall) core.CompletedRun {
	return core.CompletedRun{RunID: "r1", UserID: "u1", ProjectID: "p1", Prompt: prompt, ToolCalls: calls}
}

func call(name string, input map[string]any) core.ToolCall {
	return core.ToolCall{Name: name, Input: input}
}

func TestAccumulateUpdatesAllThree(t *testing.T) {
	st := newMemStore()
	acc := New(st, nil)
	err := acc.Accumulate(context.Background(), run("add a hero block to /en/about and check the seo metadata",
		call("read_page", map[string]any{"path": "/en/about"}),
		call("update_page", map[string]any{"path": "en/about/"}),
		call("move_page", map[string]any{"source": "/en/old", "destination": "/en/new"}),
	))
	if err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	uc, err := acc.Get(context.Background(), "u1", "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if uc.ToolFrequency["read_page"] != 1 || uc.ToolFrequency["update_page"] != 1 || uc.ToolFrequency["move_page"] != 1 {
		t.Fatalf("unexpected frequency %v", uc.ToolFrequency)
	}
	if uc.ExpertiseLevel != LevelIntermediate {
		t.Fatalf("expected intermediate, got %s", uc.ExpertiseLevel)
	}
	want := []string{"/en/new", "/en/old", "/en/about"}
	if !reflect.DeepEqual(uc.ActivePaths, want) {
		t.Fatalf("expected %v, got %v", want, uc.ActivePaths)
	}
}

func TestExpertiseNeverDowngrades(t *testing.T) {
	st := newMemStore()
	acc := New(st, nil)
	ctx := context.Background()
	if err := acc.Accumulate(ctx, run("add JSON-LD structured data and fix the hreflang canonical tags")); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if err := acc.Accumulate(ctx, run("hi")); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	uc, _ := acc.Get(ctx, "u1", "p1")
	if uc.ExpertiseLevel != LevelAdvanced {
		t.Fatalf("expertise must not drop, got %s", uc.ExpertiseLevel)
	}
}

func TestAccumulateFrequencyAcrossRuns(t *testing.T) {
	st := newMemStore()
	acc := New(st, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := acc.Accumulate(ctx, run("list", call("list_pages", map[string]any{"path": "/"}), call("list_pages", nil))); err != nil {
			t.Fatalf("Accumulate: %v", err)
		}
	}
	uc, _ := acc.Get(ctx, "u1", "p1")
	if uc.ToolFrequency["list_pages"] != 6 {
		t.Fatalf("expected 6, got %d", uc.ToolFrequency["list_pages"])
	}
}

func TestAccumulateReportsFailure(t *testing.T) {
	st := newMemStore()
	st.pathsErr = errors.New("deadlock detected")
	acc := New(st, nil)
	err := acc.Accumulate(context.Background(), run("read", call("read_page", map[string]any{"path": "/a"})))
	if err == nil {
		t.Fatalf("expected error")
	}
	if st.freq["read_page"] != 1 {
		t.Fatalf("independent updates should still apply")
	}
	if err := acc.Accumulate(context.Background(), core.CompletedRun{Prompt: "x"}); err == nil {
		t.Fatalf("expected error without identity")
	}
}

// slowStore fails the frequency upsert at once and makes the other two
// updates take a while, giving up when their context is cancelled.
type slowStore struct {
	*memStore
	delay time.Duration
}

func (s *slowStore) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
		return nil
	}
}

func (s *slowStore) IncrementToolFrequency(ctx context.Context, userID, projectID string, counts map[string]int) error {
	return errors.New("connection reset")
}

func (s *slowStore) RaiseExpertise(ctx context.Context, userID, projectID, level string, rank int) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	return s.memStore.RaiseExpertise(ctx, userID, projectID, level, rank)
}

func (s *slowStore) MergeActivePaths(ctx context.Context, userID, projectID string, merge func([]string) []string) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.memStore.MergeActivePaths(ctx, userID, projectID, merge)
}

func TestFailedUpdateDoesNotCancelOthers(t *testing.T) {
	st := &slowStore{memStore: newMemStore(), delay: 20 * time.Millisecond}
	acc := New(st, nil)
	err := acc.Accumulate(context.Background(), run("add JSON-LD structured data with hreflang",
		call("read_page", map[string]any{"path": "/en/a"}),
	))
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected tool frequency error, got %v", err)
	}
	uc, err := acc.Get(context.Background(), "u1", "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if uc.ExpertiseLevel != LevelAdvanced {
		t.Fatalf("expertise update should survive, got %q", uc.ExpertiseLevel)
	}
	if !reflect.DeepEqual(uc.ActivePaths, []string{"/en/a"}) {
		t.Fatalf("active paths update should survive, got %v", uc.ActivePaths)
	}
}

func TestGetDefaultsForNewUser(t *testing.T) {
	uc, err := New(newMemStore(), nil).Get(context.Background(), "u9", "p9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if uc.ExpertiseLevel != LevelBeginner || uc.ActivePaths == nil || uc.ToolFrequency == nil {
		t.Fatalf("unexpected default %+v", uc)
	}
}
