package lock

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// lease is an extra exclusion step taken after the in-process user lock.
type lease interface {
	acquire(ctx context.Context, userID string) (release func(), err error)
}

// Group is the in-process Locker. A Group built by NewRedis additionally holds
// a Redis lease so instances sharing a backend exclude each other.
type Group struct {
	cfg     Config
	flights singleflight.Group
	lease   lease

	mu    sync.Mutex
	users map[string]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

// NewLocal returns a Group that excludes callers of one process.
func NewLocal(cfg Config) *Group {
	return &Group{
		cfg:   cfg.withDefaults(),
		users: make(map[string]*userLock),
	}
}

// WithLock implements Locker.
func (g *Group) WithLock(ctx context.Context, userID, flightKey string, fn func(context.Context) (any, error)) (any, bool, error) {
	if userID == "" {
		return nil, false, ErrInvalidKey
	}

	detached := context.WithoutCancel(ctx)
	ch := g.flights.DoChan(userID+"\x00"+flightKey, func() (any, error) {
		opCtx, cancel := context.WithTimeout(detached, g.cfg.OperationTimeout)
		defer cancel()

		unlock, err := g.lockUser(opCtx, userID)
		if err != nil {
			return nil, err
		}
		defer unlock()

		if g.lease != nil {
			release, err := g.lease.acquire(opCtx, userID)
			if err != nil {
				return nil, err
			}
			defer release()
		}
		return fn(opCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Held reports how many calls currently hold or wait for userID.
func (g *Group) Held(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ul, ok := g.users[userID]; ok {
		return ul.refs
	}
	return 0
}

func (g *Group) lockUser(ctx context.Context, userID string) (func(), error) {
	g.mu.Lock()
	ul, ok := g.users[userID]
	if !ok {
		ul = &userLock{sem: make(chan struct{}, 1)}
		g.users[userID] = ul
	}
	ul.refs++
	g.mu.Unlock()

	select {
	case ul.sem <- struct{}{}:
	case <-ctx.Done():
		g.unref(userID, ul)
		return nil, ctx.Err()
	}

	return func() {
		<-ul.sem
		g.unref(userID, ul)
	}, nil
}

func (g *Group) unref(userID string, ul *userLock) {
	g.mu.Lock()
	ul.refs--
	if ul.refs == 0 {
		delete(g.users, userID)
	}
	g.mu.Unlock()
}
