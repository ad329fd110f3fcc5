package credentials

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/logging"
)

// RefreshTimeout bounds one shared exchange. The exchange does not follow
// any single caller's cancellation because other callers may be waiting on it.
const RefreshTimeout = 30 * time.Second

// ExchangeFunc trades a refresh credential for a new pair. It is the
// refresh endpoint call, made without the unauthorized-retry protocol.
type ExchangeFunc func(ctx context.Context, refreshToken string) (Pair, error)

// Session is the in-process view of the stored credential pair. Writes go
// through to the store. Concurrent refreshes of the same stale credential
// share one exchange.
type Session struct {
	mu     sync.RWMutex
	store  Store
	pair   Pair
	gen    uint64
	group  singleflight.Group
	logger *logging.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session's logger.
func WithSessionLogger(l *logging.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// NewSession loads the pair currently in store.
func NewSession(store Store, opts ...SessionOption) (*Session, error) {
	s := &Session{store: store}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).WithComponent("credentials")
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Credentials returns the current pair.
func (s *Session) Credentials() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// AccessToken returns the current access credential or "".
func (s *Session) AccessToken() string {
	return s.Credentials().AccessToken
}

// Generation increases every time the pair changes. Callers compare
// generations to tell whether a sign-out they observed is still current.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Save persists both credentials. An empty refresh credential keeps the one
// already stored.
func (s *Session) Save(pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(pair)
}

func (s *Session) saveLocked(pair Pair) error {
	if pair.RefreshToken == "" {
		pair.RefreshToken = s.pair.RefreshToken
	}
	if err := s.store.Set(KeyAccessToken, pair.AccessToken); err != nil {
		return errors.Wrap(err, "failed to save access token")
	}
	if err := s.store.Set(KeyRefreshToken, pair.RefreshToken); err != nil {
		return errors.Wrap(err, "failed to save refresh token")
	}
	s.pair = pair
	s.gen++
	return nil
}

// Clear removes both credentials. It reports whether anything was cleared,
// so exactly one of several concurrent failing callers sees true.
func (s *Session) Clear() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	had := s.pair != (Pair{})
	var errs []error
	if err := s.store.Delete(KeyAccessToken); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Delete(KeyRefreshToken); err != nil {
		errs = append(errs, err)
	}
	s.pair = Pair{}
	if had {
		s.gen++
		s.logger.Info("credentials cleared")
	}
	return had, errors.Join(errs...)
}

// Reload re-reads the pair from the store, picking up changes made by
// another process.
func (s *Session) Reload() error {
	access, err := s.store.Get(KeyAccessToken)
	if err != nil {
		return errors.Wrap(err, "failed to load access token")
	}
	refresh, err := s.store.Get(KeyRefreshToken)
	if err != nil {
		return errors.Wrap(err, "failed to load refresh token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := Pair{AccessToken: access, RefreshToken: refresh}
	if loaded != s.pair {
		s.pair = loaded
		s.gen++
	}
	return nil
}

// Watch reloads the session whenever the underlying store reports a change.
// Stores that cannot watch make this a no-op.
func (s *Session) Watch(ctx context.Context) error {
	w, ok := s.store.(Watcher)
	if !ok {
		return nil
	}
	return w.Watch(ctx, func() {
		if err := s.Reload(); err != nil {
			s.logger.Warn("reload credentials failed", "error", err)
			return
		}
		s.logger.Debug("credentials reloaded from store")
	})
}

// Refresh renews the access credential that was rejected as stale.
//
// If the session already holds a different access credential, someone else
// refreshed (or logged in) meanwhile and that pair is returned without
// calling exchange. Otherwise concurrent callers share a single exchange and
// all receive its result. A caller whose ctx ends stops waiting and gets
// ctx's error; the exchange carries on for the others and the stored pair is
// left alone.
func (s *Session) Refresh(ctx context.Context, staleAccess string, exchange ExchangeFunc) (Pair, error) {
	current := s.Credentials()
	if current.AccessToken != "" && current.AccessToken != staleAccess {
		return current, nil
	}
	if current.RefreshToken == "" {
		return Pair{}, errors.ErrNoRefreshToken
	}
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}

	ch := s.group.DoChan(current.RefreshToken, func() (any, error) {
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RefreshTimeout)
		defer cancel()

		s.logger.Debug("refreshing access token")
		next, err := exchange(exCtx, current.RefreshToken)
		if err != nil {
			return Pair{}, err
		}
		if next.AccessToken == "" {
			return Pair{}, errors.ErrRefreshFailed
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.saveLocked(next); err != nil {
			return Pair{}, err
		}
		return s.pair, nil
	})

	select {
	case <-ctx.Done():
		s.logger.Debug("stopped waiting for token refresh", "error", ctx.Err())
		return Pair{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("joined in-flight token refresh")
		}
		if res.Err != nil {
			return Pair{}, res.Err
		}
		return res.Val.(Pair), nil
	}
}
