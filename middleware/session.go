package middleware

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionStore wraps Redis and encoding failures of the session store.
var ErrSessionStore = errors.New("session store failure")

// SessionOptions configure a SessionStore.
type SessionOptions struct {
	// Prefix namespaces the Redis keys. Default "gs:http:".
	Prefix string
	// CookieName names the signed cookie carrying the session id. Default "sid".
	CookieName string
	// TTL is the lifetime of a session, renewed whenever it changes. It
	// should match the refresh token lifetime. Default 30 days.
	TTL    time.Duration
	Cookie goSession.CookieOptions
}

// SessionStore keeps server-side sessions in Redis as CBOR-encoded maps.
type SessionStore struct {
	client redis.UniversalClient
	opts   SessionOptions
}

func NewSessionStore(client redis.UniversalClient, opts SessionOptions) *SessionStore {
	if opts.Prefix == "" {
		opts.Prefix = "gs:http:"
	}
	if opts.CookieName == "" {
		opts.CookieName = "sid"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * 24 * time.Hour
	}
	if opts.Cookie.Path == "" {
		opts.Cookie.Path = "/"
	}
	opts.Cookie.HTTPOnly = true
	opts.Cookie.MaxAge = opts.TTL
	return &SessionStore{client: client, opts: opts}
}

type sessionPayload struct {
	Values  map[string]string `cbor:"v"`
	Created int64             `cbor:"c"`
}

// Session implements goSession.SessionBag. Changes are kept in memory until
// SessionStore.Save.
type Session struct {
	id      string
	values  map[string]string
	created time.Time
	dirty   bool
	// stale is an id whose Redis entry must be removed on save.
	stale string
}

var _ goSession.SessionBag = (*Session)(nil)

func (s *Session) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	if cur, ok := s.values[key]; ok && cur == value {
		return
	}
	s.values[key] = value
	s.dirty = true
}

func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// ID is empty until the session is first saved.
func (s *Session) ID() string { return s.id }

// Renew moves the session to a fresh id on the next save. Login handlers
// call it so a session id known before login is useless afterwards.
func (s *Session) Renew() {
	if s.id != "" {
		s.stale = s.id
	}
	s.id = ""
	s.dirty = true
}

func (st *SessionStore) key(id string) string {
	return st.opts.Prefix + id
}

// Load returns the session named by the signed id cookie in jar, or a new
// empty session when there is none or it has expired.
func (st *SessionStore) Load(ctx context.Context, jar *Jar) (*Session, error) {
	id, ok := jar.Get(st.opts.CookieName)
	if !ok || id == "" {
		return &Session{values: map[string]string{}}, nil
	}
	raw, err := st.client.Get(ctx, st.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &Session{values: map[string]string{}, stale: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}
	var p sessionPayload
	if err := cbor.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSessionStore, err)
	}
	if p.Values == nil {
		p.Values = map[string]string{}
	}
	return &Session{id: id, values: p.Values, created: time.Unix(p.Created, 0)}, nil
}

// Save persists a modified session and refreshes the id cookie. A session
// left without values is deleted and its cookie cleared.
func (st *SessionStore) Save(ctx context.Context, jar *Jar, s *Session) error {
	if !s.dirty {
		return nil
	}
	if s.stale != "" {
		if err := st.client.Del(ctx, st.key(s.stale)).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrSessionStore, err)
		}
		s.stale = ""
	}
	if len(s.values) == 0 {
		if s.id != "" {
			if err := st.client.Del(ctx, st.key(s.id)).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrSessionStore, err)
			}
			s.id = ""
		}
		jar.Clear(st.opts.CookieName)
		s.dirty = false
		return nil
	}

	fresh := s.id == ""
	if fresh {
		s.id = uuid.NewString()
		s.created = time.Now()
	}
	raw, err := cbor.Marshal(sessionPayload{Values: maps.Clone(s.values), Created: s.created.Unix()})
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrSessionStore, err)
	}
	if err := st.client.Set(ctx, st.key(s.id), raw, st.opts.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStore, err)
	}
	if fresh {
		jar.SetSigned(st.opts.CookieName, s.id, st.opts.Cookie)
	}
	s.dirty = false
	return nil
}
