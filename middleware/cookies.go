package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
)

// ErrWeakCookieSecret is returned by NewCookieCodec for secrets shorter than
// 32 bytes.
var ErrWeakCookieSecret = errors.New("cookie secret must be at least 32 bytes")

// CookieCodec signs and verifies cookie values with HMAC-SHA256. The
// signature covers the cookie name, so a value cannot be moved to another
// cookie.
type CookieCodec struct {
	secret []byte
	// Path and Domain are used when clearing a cookie that was not set in
	// the current request. They must match the attributes it was set with.
	Path   string
	Domain string
}

func NewCookieCodec(secret []byte) (*CookieCodec, error) {
	if len(secret) < 32 {
		return nil, ErrWeakCookieSecret
	}
	return &CookieCodec{secret: append([]byte(nil), secret...), Path: "/"}, nil
}

func (c *CookieCodec) sign(name, payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(name))
	mac.Write([]byte{'|'})
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Encode returns the signed cookie value for name.
func (c *CookieCodec) Encode(name, value string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(value))
	return payload + "." + c.sign(name, payload)
}

// Decode verifies raw as a value signed for name.
func (c *CookieCodec) Decode(name, raw string) (string, bool) {
	payload, sig, ok := strings.Cut(raw, ".")
	if !ok || payload == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(name, payload))) {
		return "", false
	}
	value, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", false
	}
	return string(value), true
}

// Jar returns the cookie channel of one request. A Jar is not safe for
// concurrent use.
func (c *CookieCodec) Jar(w http.ResponseWriter, r *http.Request) *Jar {
	return &Jar{codec: c, w: w, r: r, pending: make(map[string]pendingCookie)}
}

type pendingCookie struct {
	value   string
	cleared bool
	opts    goSession.CookieOptions
}

// Jar implements goSession.CookieJar over an http request/response pair.
// Reads observe writes made earlier through the same Jar.
type Jar struct {
	codec   *CookieCodec
	w       http.ResponseWriter
	r       *http.Request
	pending map[string]pendingCookie
}

var _ goSession.CookieJar = (*Jar)(nil)

func (j *Jar) Get(name string) (string, bool) {
	if p, ok := j.pending[name]; ok {
		if p.cleared {
			return "", false
		}
		return p.value, true
	}
	ck, err := j.r.Cookie(name)
	if err != nil {
		return "", false
	}
	return j.codec.Decode(name, ck.Value)
}

func (j *Jar) SetSigned(name, value string, opts goSession.CookieOptions) {
	j.pending[name] = pendingCookie{value: value, opts: opts}
	maxAge := int(opts.MaxAge / time.Second)
	if opts.MaxAge > 0 && maxAge == 0 {
		maxAge = 1
	}
	http.SetCookie(j.w, &http.Cookie{
		Name:     name,
		Value:    j.codec.Encode(name, value),
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   maxAge,
		Secure:   opts.Secure,
		HttpOnly: opts.HTTPOnly,
		SameSite: opts.SameSite,
	})
}

func (j *Jar) Clear(name string) {
	path, domain := j.codec.Path, j.codec.Domain
	if p, ok := j.pending[name]; ok && !p.cleared {
		path, domain = p.opts.Path, p.opts.Domain
	}
	if _, err := j.r.Cookie(name); err != nil {
		if _, set := j.pending[name]; !set {
			return
		}
	}
	j.pending[name] = pendingCookie{cleared: true}
	http.SetCookie(j.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
	})
}
