// Package ratelimit tracks provider rate-limit signals and pauses outbound
// calls while a provider bucket is throttled.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/transport"
	gocache "github.com/patrickmn/go-cache"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Key identifies one throttling bucket. Bucket is usually the API host.
type Key struct {
	Provider core.ProviderKind
	Bucket   string
}

func (k Key) String() string {
	return string(k.Provider) + "|" + k.Bucket
}

type State struct {
	Key            Key
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

// Response is the subset of a provider response the policy reads.
type Response struct {
	StatusCode int
	Headers    map[string]string
}

type AdaptivePolicy struct {
	Store            StateStore
	Now              core.Clock
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:            store,
		Now:              func() time.Time { return time.Now().UTC() },
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

// BeforeCall returns a RATE_LIMITED error while key is inside a throttle window.
func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key Key) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	state, err := p.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return core.NewRateLimitedError(key.String(), until.Sub(now))
	}
	if state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return core.NewRateLimitedError(key.String(), state.ResetAt.Sub(now))
	}
	return nil
}

// AfterCall records the rate-limit headers of res and opens a throttle window
// on 429 or an exhausted quota.
func (p *AdaptivePolicy) AfterCall(ctx context.Context, key Key, res Response) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Key: key}
	}

	state.LastStatus = res.StatusCode
	state.UpdatedAt = now

	limit, hasLimit := parseHeaderInt(res.Headers, "x-ratelimit-limit")
	if hasLimit {
		state.Limit = limit
	}
	remaining, hasRemaining := parseHeaderInt(res.Headers, "x-ratelimit-remaining")
	if hasRemaining {
		state.Remaining = remaining
	}
	resetAt, hasResetAt := parseHeaderResetAt(res.Headers)
	if hasResetAt {
		state.ResetAt = &resetAt
	}

	retryAfter, hasRetryAfter := parseRetryAfter(res.Headers, now)
	if hasRetryAfter {
		state.RetryAfter = &retryAfter
	} else {
		state.RetryAfter = nil
	}

	throttled := res.StatusCode == http.StatusTooManyRequests ||
		(res.StatusCode < 500 && hasRemaining && state.Remaining == 0)
	if throttled {
		state.Attempts++
		delay := retryAfter
		if !hasRetryAfter {
			delay = p.nextBackoff(state.Attempts)
			if hasResetAt && resetAt.After(now) {
				delay = resetAt.Sub(now)
			}
		}
		until := now.Add(delay)
		state.ThrottledUntil = &until
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts = 0
	state.ThrottledUntil = nil
	return p.Store.Upsert(ctx, state)
}

// Wrap returns an HTTPDoer that consults the policy around every request,
// bucketing by request host.
func (p *AdaptivePolicy) Wrap(provider core.ProviderKind, next transport.HTTPDoer) transport.HTTPDoer {
	if p == nil || next == nil {
		return next
	}
	return &throttledDoer{policy: p, provider: provider, next: next}
}

type throttledDoer struct {
	policy   *AdaptivePolicy
	provider core.ProviderKind
	next     transport.HTTPDoer
}

func (d *throttledDoer) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := Key{Provider: d.provider, Bucket: req.URL.Host}
	if err := d.policy.BeforeCall(ctx, key); err != nil {
		return nil, err
	}
	res, err := d.next.Do(req)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(res.Header))
	for name := range res.Header {
		headers[name] = res.Header.Get(name)
	}
	if err := d.policy.AfterCall(ctx, key, Response{StatusCode: res.StatusCode, Headers: headers}); err != nil {
		_ = res.Body.Close()
		return nil, err
	}
	return res, nil
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	if attempt <= 1 {
		return initial
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay <= 0 {
		return p.defaultRetryHint()
	}
	return delay
}

func (p *AdaptivePolicy) defaultRetryHint() time.Duration {
	if p != nil && p.DefaultRetryHint > 0 {
		return p.DefaultRetryHint
	}
	return 5 * time.Second
}

func parseRetryAfter(headers map[string]string, now time.Time) (time.Duration, bool) {
	raw := headerValue(headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}

func parseHeaderInt(headers map[string]string, key string) (int, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func parseHeaderResetAt(headers map[string]string) (time.Time, bool) {
	unix, err := strconv.ParseInt(headerValue(headers, "x-ratelimit-reset"), 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func normalizeKey(key Key) Key {
	return Key{
		Provider: core.ProviderKind(strings.TrimSpace(strings.ToLower(string(key.Provider)))),
		Bucket:   strings.TrimSpace(strings.ToLower(key.Bucket)),
	}
}

// MemoryStateStore keeps bucket state in process; idle entries expire after ttl.
type MemoryStateStore struct {
	cache *gocache.Cache
}

func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryStateStore{cache: gocache.New(ttl, ttl)}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil || s.cache == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	value, ok := s.cache.Get(normalizeKey(key).String())
	if !ok {
		return State{}, ErrStateNotFound
	}
	state, ok := value.(State)
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil || s.cache == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	s.cache.SetDefault(state.Key.String(), state)
	return nil
}
