// Package security builds the session posture report exposed by
// Engine.SecurityReport.
package security
