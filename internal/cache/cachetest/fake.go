// Package cachetest provides an in-memory stand-in for the redis client.
package cachetest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDown is returned by every call while the client is marked down.
var ErrDown = errors.New("cachetest: connection refused")

type FakeClient struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	down   bool
	calls  []string
	closed bool
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

// SetDown makes every subsequent call fail with ErrDown.
func (f *FakeClient) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// Value returns the raw stored value, bypassing the down flag.
func (f *FakeClient) Value(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *FakeClient) TTL(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

// Evict removes key, bypassing the down flag.
func (f *FakeClient) Evict(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	delete(f.ttls, key)
}

// Calls lists "<op> <key>" for every call, in order.
func (f *FakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "get "+key)
	if f.down {
		return redis.NewStringResult("", ErrDown)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *FakeClient) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "set "+key)
	if f.down {
		return redis.NewStatusResult("", ErrDown)
	}
	f.data[key] = fmt.Sprint(value)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *FakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		f.calls = append(f.calls, "del "+key)
		if f.down {
			return redis.NewIntResult(0, ErrDown)
		}
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			delete(f.ttls, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *FakeClient) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "incr "+key)
	if f.down {
		return redis.NewIntResult(0, ErrDown)
	}
	var n int64
	if v, ok := f.data[key]; ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return redis.NewIntResult(0, errors.New("ERR value is not an integer or out of range"))
		}
		n = parsed
	}
	n++
	f.data[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (f *FakeClient) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		f.calls = append(f.calls, "exists "+key)
		if f.down {
			return redis.NewIntResult(0, ErrDown)
		}
		if _, ok := f.data[key]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *FakeClient) Ping(_ context.Context) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStatusResult("", ErrDown)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
