package store

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// putRecordLua writes an active record, its token index and its user-set
// membership. ARGV layout from offset i: id uid did salt tok th ip ua iat rot exp.
const putRecordLua = `
local function put_record(prefix, a, i, now)
  local id = a[i]
  local uid = a[i + 1]
  local th = a[i + 5]
  local exp = tonumber(a[i + 10])
  local rk = prefix .. "rt:" .. id
  redis.call("HSET", rk,
    "id", id, "uid", uid, "did", a[i + 2], "salt", a[i + 3], "tok", a[i + 4],
    "th", th, "ip", a[i + 6], "ua", a[i + 7], "iat", a[i + 8], "rot", a[i + 9],
    "exp", a[i + 10])
  redis.call("PEXPIREAT", rk, a[i + 10])
  local tk = prefix .. "rtk:" .. th
  redis.call("SET", tk, id)
  redis.call("PEXPIREAT", tk, a[i + 10])
  local uk = prefix .. "ru:" .. uid
  redis.call("SADD", uk, id)
  local ttl = redis.call("PTTL", uk)
  if ttl < 0 or now + ttl < exp then
    redis.call("PEXPIREAT", uk, a[i + 10])
  end
end
`

const insertScript = putRecordLua + `
local prefix = ARGV[1]
local now = tonumber(ARGV[2])
if redis.call("EXISTS", prefix .. "rtk:" .. ARGV[8]) == 1 then
  return 0
end
put_record(prefix, ARGV, 3, now)
return 1
`

// revokeScript moves the records selected by mode into the revoked set and
// optionally inserts a successor. ARGV[10] is "0" for no successor, "1" to
// insert it unconditionally and "2" to insert it only when a record moved. Everything runs inside one script call so
// no reader observes a record both active and revoked.
const revokeScript = putRecordLua + `
local prefix = ARGV[1]
local mode = ARGV[2]
local user_id = ARGV[3]
local target = ARGV[4]
local reason = ARGV[5]
local revoked_at = ARGV[6]
local grace_until = ARGV[7]
local replaced_by = ARGV[8]
local now = tonumber(ARGV[9])

local ids
if mode == "record" then
  ids = {target}
else
  ids = redis.call("SMEMBERS", prefix .. "ru:" .. user_id)
end

local moved = {}
for _, id in ipairs(ids) do
  local rk = prefix .. "rt:" .. id
  local f = redis.call("HMGET", rk, "uid", "did", "salt", "tok", "th", "ip", "exp")
  local uid = f[1]
  if not uid then
    if mode ~= "record" then
      redis.call("SREM", prefix .. "ru:" .. user_id, id)
    end
  else
    local match = true
    if mode ~= "record" and uid ~= user_id then
      match = false
    end
    if mode == "device" and f[2] ~= target then
      match = false
    end
    if match then
      local exp = tonumber(f[7])
      if exp and exp > now then
        local vk = prefix .. "rv:" .. f[5]
        redis.call("HSET", vk,
          "uid", uid, "did", f[2], "salt", f[3], "tok", f[4], "ip", f[6],
          "rsn", reason, "rat", revoked_at, "gu", grace_until, "exp", f[7],
          "by", replaced_by, "gc", "0")
        redis.call("PEXPIREAT", vk, f[7])
        table.insert(moved, {uid, f[2], f[3], f[4], f[6], f[7]})
      end
      redis.call("DEL", rk)
      redis.call("DEL", prefix .. "rtk:" .. f[5])
      redis.call("SREM", prefix .. "ru:" .. uid, id)
    end
  end
end

if ARGV[10] == "1" or (ARGV[10] == "2" and #moved > 0) then
  put_record(prefix, ARGV, 11, now)
end

return moved
`

const consumeGraceScript = `
local f = redis.call("HMGET", KEYS[1], "gu", "gc")
if not f[1] then
  return 0
end
if f[2] == "1" then
  return 0
end
if tonumber(f[1]) < tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "gc", "1")
return 1
`

var (
	insertLua       = redis.NewScript(insertScript)
	revokeLua       = redis.NewScript(revokeScript)
	consumeGraceLua = redis.NewScript(consumeGraceScript)
)

// RedisBackend stores records as Redis hashes that expire with their token.
//
//	Keys: <prefix>:rt:<id>, <prefix>:rtk:<token hash>, <prefix>:ru:<user>,
//	      <prefix>:rv:<token hash>
//
// The revoke and insert scripts derive their keys from arguments and touch
// records of several users at once, so the keys cannot share a cluster slot.
// The backend therefore takes a single-primary client (standalone or
// Sentinel failover). Clustered deployments use the Postgres backend.
type RedisBackend struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisBackend returns a Backend over client. now may be nil.
func NewRedisBackend(client *redis.Client, prefix string, now func() time.Time) *RedisBackend {
	if prefix == "" {
		prefix = "gs"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisBackend{
		redis:  client,
		prefix: prefix + ":",
		now:    now,
	}
}

func (s *RedisBackend) recordKey(id string) string {
	return s.prefix + "rt:" + id
}

func (s *RedisBackend) tokenKey(tokenHash string) string {
	return s.prefix + "rtk:" + tokenHash
}

func (s *RedisBackend) userKey(userID string) string {
	return s.prefix + "ru:" + userID
}

func (s *RedisBackend) revokedKey(tokenHash string) string {
	return s.prefix + "rv:" + tokenHash
}

// Insert persists rec. Inserting a token that is already indexed is an error.
func (s *RedisBackend) Insert(ctx context.Context, rec *RefreshRecord) error {
	if err := ValidateRecord(rec); err != nil {
		return err
	}
	args := append([]interface{}{s.prefix, unixMillis(s.now())}, recordArgs(rec)...)
	res, err := insertLua.Run(ctx, s.redis, nil, args...).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if res != 1 {
		return fmt.Errorf("%w: duplicate token", ErrInvalidRecord)
	}
	return nil
}

// FindActive resolves token through its hash index and then requires the
// stored user and device to match.
func (s *RedisBackend) FindActive(ctx context.Context, userID, deviceID, token string) (*RefreshRecord, error) {
	if userID == "" || deviceID == "" {
		return nil, nil
	}
	rec, err := s.FindByToken(ctx, token)
	if err != nil || rec == nil {
		return nil, err
	}
	if !constantEqual(rec.UserID, userID) || !constantEqual(rec.DeviceID, deviceID) {
		return nil, nil
	}
	return rec, nil
}

// FindByToken resolves token through its hash index.
func (s *RedisBackend) FindByToken(ctx context.Context, token string) (*RefreshRecord, error) {
	if token == "" {
		return nil, nil
	}
	id, err := s.redis.Get(ctx, s.tokenKey(TokenHash(token))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	rec, err := s.load(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if !constantEqual(rec.Token, token) {
		return nil, nil
	}
	return rec, nil
}

// Get returns the active record with id.
func (s *RedisBackend) Get(ctx context.Context, id string) (*RefreshRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// ListActive returns the live records of userID and prunes stale set members.
func (s *RedisBackend) ListActive(ctx context.Context, userID string) ([]RefreshRecord, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	now := s.now()
	out := make([]RefreshRecord, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		rec, ok := decodeRecord(fields)
		if !ok || !rec.ExpiresAt.After(now) || rec.UserID != userID {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, *rec)
	}
	if len(stale) > 0 {
		// Best effort; members also disappear with the set's own expiry.
		_ = s.redis.SRem(ctx, s.userKey(userID), stale...).Err()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out, nil
}

// Revoke moves every record in scope to the revoked set and inserts next,
// all inside one Lua script.
func (s *RedisBackend) Revoke(ctx context.Context, scope Scope, meta RevokeMeta, next *RefreshRecord) ([]RevokedRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if next != nil {
		if err := ValidateRecord(next); err != nil {
			return nil, err
		}
	}

	var mode, target string
	switch scope.Kind() {
	case ScopeRecord:
		mode, target = "record", scope.RecordID()
	case ScopeDevice:
		mode, target = "device", scope.DeviceID()
	case ScopeUser:
		mode = "user"
	}

	args := []interface{}{
		s.prefix,
		mode,
		scope.UserID(),
		target,
		string(meta.Reason),
		unixMillis(meta.RevokedAt),
		unixMillis(meta.GraceUntil),
		meta.ReplacedBy,
		unixMillis(s.now()),
	}
	if next != nil {
		flag := "1"
		if meta.RequireMatch {
			flag = "2"
		}
		args = append(args, flag)
		args = append(args, recordArgs(next)...)
	} else {
		args = append(args, "0")
	}

	raw, err := revokeLua.Run(ctx, s.redis, nil, args...).Slice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	moved := make([]RevokedRecord, 0, len(raw))
	for _, item := range raw {
		row, ok := item.([]interface{})
		if !ok || len(row) != 6 {
			return nil, fmt.Errorf("%w: unexpected revoke reply", ErrBackendUnavailable)
		}
		moved = append(moved, RevokedRecord{
			UserID:     asString(row[0]),
			DeviceID:   asString(row[1]),
			Salt:       asString(row[2]),
			Token:      asString(row[3]),
			IPAddress:  asString(row[4]),
			Reason:     meta.Reason,
			RevokedAt:  meta.RevokedAt,
			GraceUntil: meta.GraceUntil,
			ExpiresAt:  fromMillis(asString(row[5])),
			ReplacedBy: meta.ReplacedBy,
		})
	}
	if meta.RequireMatch && len(moved) == 0 {
		return nil, ErrRecordNotFound
	}
	return moved, nil
}

// LookupRevoked returns the registry entry for token, or nil when absent.
func (s *RedisBackend) LookupRevoked(ctx context.Context, token string) (*RevokedRecord, error) {
	if token == "" {
		return nil, nil
	}
	fields, err := s.redis.HGetAll(ctx, s.revokedKey(TokenHash(token))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := &RevokedRecord{
		UserID:        fields["uid"],
		DeviceID:      fields["did"],
		Salt:          fields["salt"],
		Token:         fields["tok"],
		IPAddress:     fields["ip"],
		Reason:        Reason(fields["rsn"]),
		RevokedAt:     fromMillis(fields["rat"]),
		GraceUntil:    fromMillis(fields["gu"]),
		ExpiresAt:     fromMillis(fields["exp"]),
		ReplacedBy:    fields["by"],
		GraceConsumed: fields["gc"] == "1",
	}
	if !rec.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return rec, nil
}

// InsertRevoked writes recs in one MULTI/EXEC. Already expired entries are skipped.
func (s *RedisBackend) InsertRevoked(ctx context.Context, recs []RevokedRecord) error {
	if len(recs) == 0 {
		return nil
	}
	now := s.now()
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range recs {
			rec := &recs[i]
			if rec.Token == "" || !rec.ExpiresAt.After(now) {
				continue
			}
			key := s.revokedKey(TokenHash(rec.Token))
			gc := "0"
			if rec.GraceConsumed {
				gc = "1"
			}
			pipe.HSet(ctx, key,
				"uid", rec.UserID,
				"did", rec.DeviceID,
				"salt", rec.Salt,
				"tok", rec.Token,
				"ip", rec.IPAddress,
				"rsn", string(rec.Reason),
				"rat", unixMillis(rec.RevokedAt),
				"gu", unixMillis(rec.GraceUntil),
				"exp", unixMillis(rec.ExpiresAt),
				"by", rec.ReplacedBy,
				"gc", gc,
			)
			pipe.PExpireAt(ctx, key, rec.ExpiresAt)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// ConsumeGrace flips the one-time grace flag of token.
func (s *RedisBackend) ConsumeGrace(ctx context.Context, token string, now time.Time) (bool, error) {
	if token == "" {
		return false, nil
	}
	res, err := consumeGraceLua.Run(ctx, s.redis, []string{s.revokedKey(TokenHash(token))}, unixMillis(now)).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return res == 1, nil
}

func (s *RedisBackend) load(ctx context.Context, id string) (*RefreshRecord, error) {
	if id == "" {
		return nil, nil
	}
	fields, err := s.redis.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	rec, ok := decodeRecord(fields)
	if !ok || !rec.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return rec, nil
}

func recordArgs(rec *RefreshRecord) []interface{} {
	return []interface{}{
		rec.ID,
		rec.UserID,
		rec.DeviceID,
		rec.Salt,
		rec.Token,
		rec.TokenHash(),
		rec.IPAddress,
		rec.UserAgent,
		unixMillis(rec.IssuedAt),
		unixMillis(rec.RotatedAt),
		unixMillis(rec.ExpiresAt),
	}
}

func decodeRecord(fields map[string]string) (*RefreshRecord, bool) {
	if len(fields) == 0 || fields["id"] == "" || fields["uid"] == "" {
		return nil, false
	}
	return &RefreshRecord{
		ID:        fields["id"],
		UserID:    fields["uid"],
		DeviceID:  fields["did"],
		Salt:      fields["salt"],
		Token:     fields["tok"],
		IPAddress: fields["ip"],
		UserAgent: fields["ua"],
		IssuedAt:  fromMillis(fields["iat"]),
		RotatedAt: fromMillis(fields["rot"]),
		ExpiresAt: fromMillis(fields["exp"]),
	}, true
}

func unixMillis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func fromMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

func constantEqual(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
