// Package auth caches the carrier bearer credential.
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"shiprelay/internal/apperr"
	"shiprelay/internal/logging"
)

// DefaultTTL is how long a token is used before a proactive re-login.
const DefaultTTL = 10 * time.Hour

// LoginTimeout bounds one login exchange independently of the callers waiting on it.
var LoginTimeout = 30 * time.Second

// Authenticator performs the carrier login exchange.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, error)
}

// Credential is a bearer token and the time it was obtained.
type Credential struct {
	Token     string
	FetchedAt time.Time
}

// Cache holds one process-wide carrier credential. Concurrent callers that
// find it missing or stale share a single login.
type Cache struct {
	auth     Authenticator
	email    string
	password string
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger

	mu   sync.RWMutex
	cred Credential
	sf   singleflight.Group
}

func NewCache(a Authenticator, email, password string, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Cache{auth: a, email: email, password: password, ttl: ttl, now: time.Now, log: log}
}

// Get returns a usable credential, logging in first when none is cached or it is older than the TTL.
func (c *Cache) Get(ctx context.Context) (Credential, error) {
	if cred, ok := c.fresh(); ok {
		return cred, nil
	}
	return c.login(ctx, false)
}

// Refresh performs the login exchange even when the cached credential is fresh.
func (c *Cache) Refresh(ctx context.Context) (Credential, error) {
	return c.login(ctx, true)
}

func (c *Cache) fresh() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred, c.cred.Token != "" && c.now().Sub(c.cred.FetchedAt) < c.ttl
}

// login shares one exchange among concurrent callers. Unforced callers re-check
// the cache inside the flight, so a caller that saw the cache empty just before
// another login committed reuses that result. The exchange runs detached from
// any single caller's cancellation; each caller stops waiting on its own ctx.
func (c *Cache) login(ctx context.Context, force bool) (Credential, error) {
	key := "login"
	if force {
		key = "login-forced"
	}
	ch := c.sf.DoChan(key, func() (any, error) {
		if !force {
			if cred, ok := c.fresh(); ok {
				return cred, nil
			}
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoginTimeout)
		defer cancel()
		token, err := c.auth.Login(lctx, c.email, c.password)
		if err != nil {
			return Credential{}, err
		}
		if token == "" {
			return Credential{}, apperr.Auth("carrier login returned empty token", nil)
		}
		cred := Credential{Token: token, FetchedAt: c.now()}
		c.mu.Lock()
		c.cred = cred
		c.mu.Unlock()
		c.log.Info("carrier credential refreshed", "forced", force)
		return cred, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Credential{}, apperr.Auth("carrier login abandoned", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		err := res.Err
		if !apperr.Is(err, apperr.CodeAuth) {
			err = apperr.Auth("carrier login failed", err)
		}
		return Credential{}, err
	}
	if res.Shared {
		c.log.Debug("carrier login shared with concurrent caller")
	}
	return res.Val.(Credential), nil
}

// Invalidate forgets the cached credential so the next Get logs in again.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cred = Credential{}
	c.mu.Unlock()
}

// Peek returns the cached credential without refreshing.
func (c *Cache) Peek() Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred
}
