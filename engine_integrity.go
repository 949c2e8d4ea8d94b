package goSession

import "crypto/subtle"

// checkChannels runs before any token is looked at. A field carried by one
// channel must be carried by the other with the same bytes, otherwise a
// rotation could overwrite the tampered copy and hide the divergence.
func (e *Engine) checkChannels(req Request) (string, bool) {
	for f := credentialField(0); f < credentialFieldCount; f++ {
		name := e.fieldName(f)
		fromSession, okSession := sessionValue(req.Session, name)
		fromCookie, okCookie := cookieValue(req.Cookies, name)
		if okSession != okCookie {
			return name, false
		}
		if okSession && !sameValue(fromCookie, fromSession) {
			return name, false
		}
	}
	return "", true
}

// checkIntegrity compares the cookie and session copies of every credential
// field, and the resolved value against the session copy. It returns the
// name of the first diverging field.
func (e *Engine) checkIntegrity(req Request) (string, bool) {
	for f := credentialField(0); f < credentialFieldCount; f++ {
		name := e.fieldName(f)
		fromSession, okSession := sessionValue(req.Session, name)
		fromCookie, okCookie := cookieValue(req.Cookies, name)
		if !okSession || !okCookie {
			return name, false
		}
		if !sameValue(fromCookie, fromSession) {
			return name, false
		}
		if !sameValue(e.resolve(req, f), fromSession) {
			return name, false
		}
	}
	return "", true
}

func sameValue(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
