package store

import "errors"

// ErrInvalidScope is returned for a zero or incomplete Scope.
var ErrInvalidScope = errors.New("invalid revoke scope")

// ScopeKind tags the variant held by a Scope.
type ScopeKind uint8

const (
	scopeInvalid ScopeKind = iota
	// ScopeRecord targets a single record id.
	ScopeRecord
	// ScopeDevice targets the active records of one user on one device.
	ScopeDevice
	// ScopeUser targets every active record of one user.
	ScopeUser
)

// Scope selects the active records affected by a revoke or rotate operation.
// Build one with ByRecord, ByDevice or ByUser.
type Scope struct {
	kind     ScopeKind
	userID   string
	deviceID string
	recordID string
}

// ByRecord selects the record with the given id.
func ByRecord(recordID string) Scope {
	return Scope{kind: ScopeRecord, recordID: recordID}
}

// ByDevice selects the records of userID bound to deviceID.
func ByDevice(userID, deviceID string) Scope {
	return Scope{kind: ScopeDevice, userID: userID, deviceID: deviceID}
}

// ByUser selects every record of userID.
func ByUser(userID string) Scope {
	return Scope{kind: ScopeUser, userID: userID}
}

func (s Scope) Kind() ScopeKind  { return s.kind }
func (s Scope) UserID() string   { return s.userID }
func (s Scope) DeviceID() string { return s.deviceID }
func (s Scope) RecordID() string { return s.recordID }

// Validate reports ErrInvalidScope when a required component is empty.
func (s Scope) Validate() error {
	switch s.kind {
	case ScopeRecord:
		if s.recordID == "" {
			return ErrInvalidScope
		}
	case ScopeDevice:
		if s.userID == "" || s.deviceID == "" {
			return ErrInvalidScope
		}
	case ScopeUser:
		if s.userID == "" {
			return ErrInvalidScope
		}
	default:
		return ErrInvalidScope
	}
	return nil
}

// Matches reports whether rec falls inside the scope.
func (s Scope) Matches(rec *RefreshRecord) bool {
	if rec == nil {
		return false
	}
	switch s.kind {
	case ScopeRecord:
		return rec.ID == s.recordID
	case ScopeDevice:
		return rec.UserID == s.userID && rec.DeviceID == s.deviceID
	case ScopeUser:
		return rec.UserID == s.userID
	}
	return false
}

func (s Scope) String() string {
	switch s.kind {
	case ScopeRecord:
		return "record:" + s.recordID
	case ScopeDevice:
		return "device:" + s.userID
	case ScopeUser:
		return "user:" + s.userID
	}
	return "invalid"
}
