package goSession

import "time"

type credentialField uint8

const (
	fieldUserID credentialField = iota
	fieldDeviceID
	fieldAccessToken
	fieldRefreshToken
	fieldRefreshTokenID
	credentialFieldCount
)

// credentials are the five values a session carries in both channels.
type credentials struct {
	userID         string
	deviceID       string
	accessToken    string
	refreshToken   string
	refreshTokenID string
}

func (c credentials) field(f credentialField) string {
	switch f {
	case fieldUserID:
		return c.userID
	case fieldDeviceID:
		return c.deviceID
	case fieldAccessToken:
		return c.accessToken
	case fieldRefreshToken:
		return c.refreshToken
	case fieldRefreshTokenID:
		return c.refreshTokenID
	}
	return ""
}

func (c credentials) empty() bool {
	return c == credentials{}
}

func (e *Engine) fieldName(f credentialField) string {
	n := e.config.Credentials
	switch f {
	case fieldUserID:
		return n.UserIDKey
	case fieldDeviceID:
		return n.DeviceIDKey
	case fieldAccessToken:
		return n.AccessTokenKey
	case fieldRefreshToken:
		return n.RefreshTokenKey
	case fieldRefreshTokenID:
		return n.RefreshTokenIDKey
	}
	return ""
}

func localField(ac *AuthContext, f credentialField) string {
	if ac == nil {
		return ""
	}
	switch f {
	case fieldUserID:
		return ac.userID
	case fieldDeviceID:
		return ac.deviceID
	case fieldAccessToken:
		return ac.accessToken
	case fieldRefreshToken:
		return ac.refreshToken
	case fieldRefreshTokenID:
		return ac.refreshTokenID
	}
	return ""
}

func sessionValue(bag SessionBag, name string) (string, bool) {
	if bag == nil {
		return "", false
	}
	v, ok := bag.Get(name)
	return v, ok && v != ""
}

func cookieValue(jar CookieJar, name string) (string, bool) {
	if jar == nil {
		return "", false
	}
	v, ok := jar.Get(name)
	return v, ok && v != ""
}

// resolve returns a field preferring the request-local context, then the
// session, then the signed cookie.
func (e *Engine) resolve(req Request, f credentialField) string {
	if v := localField(req.Local, f); v != "" {
		return v
	}
	name := e.fieldName(f)
	if v, ok := sessionValue(req.Session, name); ok {
		return v
	}
	if v, ok := cookieValue(req.Cookies, name); ok {
		return v
	}
	return ""
}

func (e *Engine) readCredentials(req Request) credentials {
	return credentials{
		userID:         e.resolve(req, fieldUserID),
		deviceID:       e.resolve(req, fieldDeviceID),
		accessToken:    e.resolve(req, fieldAccessToken),
		refreshToken:   e.resolve(req, fieldRefreshToken),
		refreshTokenID: e.resolve(req, fieldRefreshTokenID),
	}
}

// sessionCredentials reads every field from the session channel only.
func (e *Engine) sessionCredentials(req Request) credentials {
	var c credentials
	for f := credentialField(0); f < credentialFieldCount; f++ {
		v, _ := sessionValue(req.Session, e.fieldName(f))
		switch f {
		case fieldUserID:
			c.userID = v
		case fieldDeviceID:
			c.deviceID = v
		case fieldAccessToken:
			c.accessToken = v
		case fieldRefreshToken:
			c.refreshToken = v
		case fieldRefreshTokenID:
			c.refreshTokenID = v
		}
	}
	return c
}

// writeCredentials stamps c into the session and the signed cookies. Cookies
// live until the refresh record expires.
func (e *Engine) writeCredentials(req Request, c credentials, refreshExpires time.Time) {
	maxAge := refreshExpires.Sub(e.now())
	if maxAge < time.Second {
		maxAge = time.Second
	}
	opts := e.cookieOptions(maxAge)
	for f := credentialField(0); f < credentialFieldCount; f++ {
		name := e.fieldName(f)
		value := c.field(f)
		if req.Session != nil {
			req.Session.Set(name, value)
		}
		if req.Cookies != nil {
			req.Cookies.SetSigned(name, value, opts)
		}
	}
}

func (e *Engine) clearCredentials(req Request) {
	for f := credentialField(0); f < credentialFieldCount; f++ {
		name := e.fieldName(f)
		if req.Session != nil {
			req.Session.Delete(name)
		}
		if req.Cookies != nil {
			req.Cookies.Clear(name)
		}
	}
}

func (e *Engine) newAuthContext(c credentials, accessExpires time.Time, rotated bool) *AuthContext {
	return &AuthContext{
		userID:          c.userID,
		deviceID:        c.deviceID,
		refreshTokenID:  c.refreshTokenID,
		accessToken:     c.accessToken,
		refreshToken:    c.refreshToken,
		accessExpiresAt: accessExpires,
		state:           StateAccessValid,
		rotated:         rotated,
	}
}
