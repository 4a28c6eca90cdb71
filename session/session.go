// Package session holds the client-side view of the premium session: the
// authentication state machine, usage counters, the room-limit flag, and the
// set of managed resources. State is mutated only by the premiumclient
// dispatch path; UI code reads immutable snapshots.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/growhaus/premium-client-go/internal/tokenclaims"
	"github.com/growhaus/premium-client-go/wire"
)

// Status is the authentication state of the session.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated  Status = "authenticated"
	StatusError          Status = "error"
)

// EntryCause distinguishes how the session reached the authenticated state.
// The landed state is identical for all three; only side-effect triggering in
// the client differs (a restore must not re-run fresh-login behavior).
type EntryCause int

const (
	CauseLogin EntryCause = iota
	CauseRestore
	CauseSharedAuth
)

func (c EntryCause) String() string {
	switch c {
	case CauseLogin:
		return "login"
	case CauseRestore:
		return "restore"
	case CauseSharedAuth:
		return "shared-auth"
	default:
		return "unknown"
	}
}

// ErrNoUserIdentity indicates an authenticated-state payload arrived without
// a user identity. The state machine treats this as an invariant violation
// and forces a logout rather than holding premium state with no user.
var ErrNoUserIdentity = errors.New("session: authenticated payload carries no user identity")

// State is the session state machine. All methods are safe for concurrent
// use.
type State struct {
	mu sync.RWMutex

	status       Status
	user         *wire.User
	sessionToken string
	refreshToken string
	expiresAt    time.Time
	premium      bool
	subscription *wire.SubscriptionInfo

	activeSessionCount int
	maxSessionCount    int

	roomLimitReached bool
	lastError        string
}

// NewState creates a State in the idle (logged out) status.
func NewState() *State {
	return &State{status: StatusIdle}
}

// Snapshot is an immutable copy of the session state for UI consumption.
type Snapshot struct {
	Status             Status
	User               *wire.User
	SessionToken       string
	RefreshToken       string
	ExpiresAt          time.Time
	Premium            bool
	Subscription       *wire.SubscriptionInfo
	ActiveSessionCount int
	MaxSessionCount    int
	RoomLimitReached   bool
	LastError          string
}

// Snapshot returns a copy of the current state. The premium flag in the
// snapshot is already guarded: it is true only while the session is
// authenticated with a user identity.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Status:             s.status,
		SessionToken:       s.sessionToken,
		RefreshToken:       s.refreshToken,
		ExpiresAt:          s.expiresAt,
		Premium:            s.premiumLocked(),
		ActiveSessionCount: s.activeSessionCount,
		MaxSessionCount:    s.maxSessionCount,
		RoomLimitReached:   s.roomLimitReached,
		LastError:          s.lastError,
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	if s.subscription != nil {
		sub := *s.subscription
		snap.Subscription = &sub
	}
	return snap
}

// Status returns the current authentication status.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Premium reports whether premium features are available. It is true only
// while the session is authenticated AND a user identity is held; any other
// combination reads as false regardless of what the last message claimed.
func (s *State) Premium() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.premiumLocked()
}

func (s *State) premiumLocked() bool {
	return s.status == StatusAuthenticated && s.user != nil && s.premium
}

// BeginAuth marks a login attempt in flight.
func (s *State) BeginAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusAuthenticating
	s.lastError = ""
}

// EnterAuthenticated lands the session in the authenticated state, populating
// the same fields regardless of entry cause so downstream consumers cannot
// distinguish a login from a restore by state shape. A payload without a user
// identity forces a logout and returns ErrNoUserIdentity.
func (s *State) EnterAuthenticated(cause EntryCause, p *wire.SessionPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p == nil || p.User == nil || p.User.ID == "" {
		s.resetLocked()
		return ErrNoUserIdentity
	}

	u := *p.User
	s.status = StatusAuthenticated
	s.user = &u
	s.lastError = ""
	if p.SessionToken != "" {
		s.sessionToken = p.SessionToken
	}
	if p.RefreshToken != "" {
		s.refreshToken = p.RefreshToken
	}
	s.premium = p.Premium
	if p.Subscription != nil {
		sub := *p.Subscription
		s.subscription = &sub
	}
	if p.ActiveSessionCount != nil {
		s.activeSessionCount = *p.ActiveSessionCount
	}
	if p.MaxSessionCount != nil {
		s.maxSessionCount = *p.MaxSessionCount
	}

	switch {
	case p.ExpiresAt != nil:
		s.expiresAt = *p.ExpiresAt
	case p.SessionToken != "":
		// Backend omitted an explicit expiry; fall back to the token's own
		// exp claim when the token is a JWT.
		if claims, err := tokenclaims.Inspect(p.SessionToken); err == nil {
			s.expiresAt = claims.ExpiresAt
		}
	}
	return nil
}

// ApplyProfile reconciles a profile payload. A profile without a user
// identity forces a logout (the security invariant: premium state must never
// survive without a user) and returns ErrNoUserIdentity. Tokens are left
// untouched unless the payload carries replacements.
func (s *State) ApplyProfile(p *wire.SessionPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p == nil || p.User == nil || p.User.ID == "" {
		s.resetLocked()
		return ErrNoUserIdentity
	}

	u := *p.User
	s.status = StatusAuthenticated
	s.user = &u
	s.premium = p.Premium
	if p.SessionToken != "" {
		s.sessionToken = p.SessionToken
	}
	if p.RefreshToken != "" {
		s.refreshToken = p.RefreshToken
	}
	if p.Subscription != nil {
		sub := *p.Subscription
		s.subscription = &sub
	}
	if p.ActiveSessionCount != nil {
		s.activeSessionCount = *p.ActiveSessionCount
	}
	if p.MaxSessionCount != nil {
		s.maxSessionCount = *p.MaxSessionCount
	}
	return nil
}

// SetError moves the session into the error state with a backend reason.
func (s *State) SetError(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.lastError = reason
}

// ClearError returns an errored session to idle. A no-op in other states.
func (s *State) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusError {
		s.status = StatusIdle
		s.lastError = ""
	}
}

// Reset returns the session to the logged-out state and clears every derived
// field, including the room-limit flag.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *State) resetLocked() {
	s.status = StatusIdle
	s.user = nil
	s.sessionToken = ""
	s.refreshToken = ""
	s.expiresAt = time.Time{}
	s.premium = false
	s.subscription = nil
	s.activeSessionCount = 0
	s.maxSessionCount = 0
	s.roomLimitReached = false
	s.lastError = ""
}

// PatchCounters overwrites the usage counters carried by the payload and
// touches nothing else. Absent fields keep their current value; repeated
// patches are last-write-wins, never cumulative.
func (s *State) PatchCounters(active, max *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active != nil {
		s.activeSessionCount = *active
	}
	if max != nil {
		s.maxSessionCount = *max
	}
}

// SetRoomLimit records or clears the backend's room-limit broadcast.
func (s *State) SetRoomLimit(reached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomLimitReached = reached
}

// RoomLimitReached reports whether the backend declared the room full.
func (s *State) RoomLimitReached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomLimitReached
}

// CanAddResource gates resource creation: the session must be authenticated
// with premium available, the room limit must not be reached, and the session
// count must be under the maximum (a zero maximum means unlimited).
func (s *State) CanAddResource() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.premiumLocked() || s.roomLimitReached {
		return false
	}
	return s.maxSessionCount == 0 || s.activeSessionCount < s.maxSessionCount
}
