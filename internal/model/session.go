package model

import "time"

type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionWaitingQR    SessionState = "waiting_qr"
	SessionConnected    SessionState = "connected"
	SessionError        SessionState = "error"
)

// SessionRecord holds the last known gateway session for one identity.
// Profile fields are set only while connected; ClearProfile must be called
// on any transition away from connected.
type SessionRecord struct {
	Identity      Identity
	State         SessionState
	LastQRPayload *string
	ResolvedNum   *string
	DisplayName   *string
	AvatarRef     *string
	LastCheckedAt *time.Time
	LastError     *string
	UpdatedAt     time.Time
}

func (s *SessionRecord) ClearProfile() {
	s.ResolvedNum = nil
	s.DisplayName = nil
	s.AvatarRef = nil
}
