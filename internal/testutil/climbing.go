// Package testutil holds shared test fixtures.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"cragcoach/internal/climbing"
)

// FakeRepository is an in-memory climbing.Store for tests. Set Err* fields
// (or FailUsers) to make reads fail.
type FakeRepository struct {
	mu sync.Mutex

	Profiles    map[climbing.UserID]map[string]any
	Ticks       map[climbing.UserID][]climbing.Tick
	Performance map[climbing.UserID]map[string]any
	Chats       map[climbing.UserID][]climbing.ChatTurn
	Uploads     map[climbing.UserID][]climbing.Upload

	ErrProfile     error
	ErrTicks       error
	ErrPerformance error
	ErrChat        error
	ErrUploads     error
	// FailUsers makes every read for the listed users return the error.
	FailUsers map[climbing.UserID]error

	calls map[string]int
}

var _ climbing.Store = (*FakeRepository)(nil)

// NewFakeRepository returns an empty repository.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{
		Profiles:    map[climbing.UserID]map[string]any{},
		Ticks:       map[climbing.UserID][]climbing.Tick{},
		Performance: map[climbing.UserID]map[string]any{},
		Chats:       map[climbing.UserID][]climbing.ChatTurn{},
		Uploads:     map[climbing.UserID][]climbing.Upload{},
		FailUsers:   map[climbing.UserID]error{},
		calls:       map[string]int{},
	}
}

// Calls returns how many times the named method was called.
func (f *FakeRepository) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeRepository) enter(method string, userID climbing.UserID, injected error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if err, ok := f.FailUsers[userID]; ok {
		return err
	}
	return injected
}

func (f *FakeRepository) FetchProfile(_ context.Context, userID climbing.UserID) (map[string]any, error) {
	if err := f.enter("FetchProfile", userID, f.ErrProfile); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.Profiles[userID]; ok {
		return copyMap(p), nil
	}
	return map[string]any{}, nil
}

func (f *FakeRepository) FetchTicksSince(_ context.Context, userID climbing.UserID, since time.Time) ([]climbing.Tick, error) {
	if err := f.enter("FetchTicksSince", userID, f.ErrTicks); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []climbing.Tick
	for _, t := range f.Ticks[userID] {
		if !t.Time().Before(since) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time().After(out[j].Time()) })
	return out, nil
}

func (f *FakeRepository) FetchPerformance(_ context.Context, userID climbing.UserID) (map[string]any, error) {
	if err := f.enter("FetchPerformance", userID, f.ErrPerformance); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.Performance[userID]; ok {
		return copyMap(p), nil
	}
	return map[string]any{}, nil
}

func (f *FakeRepository) FetchChatHistory(_ context.Context, userID climbing.UserID, conversationID string, limit int) ([]climbing.ChatTurn, error) {
	if err := f.enter("FetchChatHistory", userID, f.ErrChat); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []climbing.ChatTurn
	for _, turn := range f.Chats[userID] {
		if conversationID == "" || turn.ConversationID == conversationID {
			out = append(out, turn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeRepository) FetchPendingUploads(_ context.Context, userID climbing.UserID) ([]climbing.Upload, error) {
	if err := f.enter("FetchPendingUploads", userID, f.ErrUploads); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]climbing.Upload(nil), f.Uploads[userID]...), nil
}

func (f *FakeRepository) ListActiveUsers(_ context.Context, since time.Time) ([]climbing.UserID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListActiveUsers"]++
	seen := map[climbing.UserID]bool{}
	for user, ticks := range f.Ticks {
		for _, t := range ticks {
			if !t.Time().Before(since) {
				seen[user] = true
			}
		}
	}
	for user, turns := range f.Chats {
		for _, turn := range turns {
			if !turn.CreatedAt.Before(since) {
				seen[user] = true
			}
		}
	}
	users := make([]climbing.UserID, 0, len(seen))
	for user := range seen {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

func (f *FakeRepository) SavePendingUpload(_ context.Context, userID climbing.UserID, upload climbing.Upload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["SavePendingUpload"]++
	f.Uploads[userID] = append(f.Uploads[userID], upload)
	return nil
}

func (f *FakeRepository) AppendChatTurn(_ context.Context, userID climbing.UserID, turn climbing.ChatTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["AppendChatTurn"]++
	f.Chats[userID] = append(f.Chats[userID], turn)
	return nil
}

func (f *FakeRepository) Close() error { return nil }

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
