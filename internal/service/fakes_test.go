package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shortlink/internal/model"
)

// fakeStore is an in-memory Store and ClickStore with the same error
// taxonomy as the postgres gateway.
type fakeStore struct {
	mu         sync.Mutex
	rows       map[string]model.URLMapping
	events     map[string][]model.ClickEvent
	nextID     int64
	down       bool
	clicksDown bool
	inserts    []string
	now        time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:   make(map[string]model.URLMapping),
		events: make(map[string][]model.ClickEvent),
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeStore) setClicksDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicksDown = down
}

// seed inserts mappings directly, bypassing the down flags.
func (f *fakeStore) seed(codes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, code := range codes {
		f.nextID++
		f.rows[code] = model.URLMapping{
			ID:          f.nextID,
			ShortCode:   code,
			OriginalURL: "https://taken.example/" + code,
			CreatedAt:   f.tick(),
		}
	}
}

func (f *fakeStore) row(code string) (model.URLMapping, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[code]
	return m, ok
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeStore) insertAttempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inserts...)
}

func (f *fakeStore) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fakeStore) unavailable(op string) error {
	return fmt.Errorf("fake.%s: %w: connection refused", op, model.ErrStoreUnavailable)
}

func (f *fakeStore) FindByCode(_ context.Context, code string) (*model.URLMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unavailable("FindByCode")
	}
	m, ok := f.rows[code]
	if !ok {
		return nil, fmt.Errorf("fake.FindByCode: %w", model.ErrNotFound)
	}
	return &m, nil
}

func (f *fakeStore) FindByURL(_ context.Context, original string) (*model.URLMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unavailable("FindByURL")
	}
	var found *model.URLMapping
	for _, m := range f.rows {
		if m.OriginalURL != original {
			continue
		}
		if found == nil || m.ID < found.ID {
			found = &m
		}
	}
	if found == nil {
		return nil, fmt.Errorf("fake.FindByURL: %w", model.ErrNotFound)
	}
	return found, nil
}

func (f *fakeStore) Insert(_ context.Context, code, original string) (*model.URLMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unavailable("Insert")
	}
	f.inserts = append(f.inserts, code)
	if _, ok := f.rows[code]; ok {
		return nil, fmt.Errorf("fake.Insert: %w", model.ErrDuplicateCode)
	}
	f.nextID++
	m := model.URLMapping{ID: f.nextID, ShortCode: code, OriginalURL: original, CreatedAt: f.tick()}
	f.rows[code] = m
	return &m, nil
}

func (f *fakeStore) Delete(_ context.Context, code string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, f.unavailable("Delete")
	}
	if _, ok := f.rows[code]; !ok {
		return 0, nil
	}
	delete(f.rows, code)
	delete(f.events, code)
	return 1, nil
}

func (f *fakeStore) RecentClicks(_ context.Context, code string, limit int) ([]model.ClickEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unavailable("RecentClicks")
	}
	all := f.events[code]
	res := make([]model.ClickEvent, 0, limit)
	for i := len(all) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, all[i])
	}
	return res, nil
}

func (f *fakeStore) IncrementClicks(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || f.clicksDown {
		return f.unavailable("IncrementClicks")
	}
	m, ok := f.rows[code]
	if !ok {
		return fmt.Errorf("fake.IncrementClicks: %w", model.ErrNotFound)
	}
	at := f.tick()
	m.ClickCount++
	m.LastAccessed = &at
	f.rows[code] = m
	return nil
}

func (f *fakeStore) RecordClick(_ context.Context, code string, meta model.ClickMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || f.clicksDown {
		return f.unavailable("RecordClick")
	}
	if _, ok := f.rows[code]; !ok {
		return fmt.Errorf("fake.RecordClick: %w", model.ErrNotFound)
	}
	f.nextID++
	e := model.ClickEvent{ID: f.nextID, ShortCode: code, ClickedAt: f.tick()}
	if meta.IPAddress != "" {
		ip := meta.IPAddress
		e.IPAddress = &ip
	}
	if meta.UserAgent != "" {
		ua := meta.UserAgent
		e.UserAgent = &ua
	}
	if meta.Referrer != "" {
		ref := meta.Referrer
		e.Referrer = &ref
	}
	f.events[code] = append(f.events[code], e)
	return nil
}

func (f *fakeStore) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return f.unavailable("Ping")
	}
	return nil
}

// scriptedCodes hands out codes in order and then repeats the last one.
type scriptedCodes struct {
	mu    sync.Mutex
	codes []string
	calls int
}

func (s *scriptedCodes) Code(context.Context, string, int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.codes) {
		i = len(s.codes) - 1
	}
	s.calls++
	return s.codes[i], nil
}

func (s *scriptedCodes) Strategy() string { return "scripted" }

// recordingDispatcher remembers every enqueued click.
type recordingDispatcher struct {
	mu    sync.Mutex
	codes []string
}

func (d *recordingDispatcher) Enqueue(_ context.Context, code string, _ model.ClickMetadata) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes = append(d.codes, code)
	return true
}

func (d *recordingDispatcher) enqueued() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.codes...)
}
