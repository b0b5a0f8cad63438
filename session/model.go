package session

import (
	"strconv"
	"time"
)

// State is the lifecycle state of a session. Only StateActive is live; every
// other state is terminal and is never left once entered.
type State string

const (
	StateActive          State = "active"
	StateLoggedOut       State = "logged_out"
	StateEvicted         State = "evicted"
	StateIdleExpired     State = "idle_expired"
	StateAbsoluteExpired State = "absolute_expired"
	StateBlacklisted     State = "blacklisted"
)

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	return s != StateActive
}

// Risk is the login-time risk snapshot stored with a session.
type Risk struct {
	Score      float64
	Suspicious bool
	MFAUsed    bool
}

// Device describes the client a session was opened from.
type Device struct {
	IP        string
	UserAgent string
	Type      string
	Location  string
}

// Session is one authenticated login on one portal.
type Session struct {
	ID           string
	IdentityID   string
	TenantID     string
	Portal       string
	State        State
	Blacklisted  bool
	Nonce        string
	SuperAccount bool

	CreatedAt      time.Time
	LastActivityAt time.Time
	EndedAt        time.Time

	Risk   Risk
	Device Device
}

// hash field names
const (
	fID         = "id"
	fIdentity   = "identity"
	fTenant     = "tenant"
	fPortal     = "portal"
	fState      = "state"
	fBlacklist  = "bl"
	fNonce      = "nonce"
	fSuper      = "super"
	fCreated    = "created"
	fLast       = "last"
	fEnded      = "ended"
	fRisk       = "risk"
	fSuspicious = "susp"
	fMFA        = "mfa"
	fIP         = "ip"
	fUserAgent  = "ua"
	fDevice     = "dev"
	fLocation   = "loc"
)

// fields flattens s into HSET arguments. Times are unix milliseconds so the
// scripts can compare them numerically.
func (s *Session) fields() []interface{} {
	return []interface{}{
		fID, s.ID,
		fIdentity, s.IdentityID,
		fTenant, s.TenantID,
		fPortal, s.Portal,
		fState, string(StateActive),
		fBlacklist, "0",
		fNonce, s.Nonce,
		fSuper, boolField(s.SuperAccount),
		fCreated, millis(s.CreatedAt),
		fLast, millis(s.LastActivityAt),
		fRisk, strconv.FormatFloat(s.Risk.Score, 'f', 3, 64),
		fSuspicious, boolField(s.Risk.Suspicious),
		fMFA, boolField(s.Risk.MFAUsed),
		fIP, s.Device.IP,
		fUserAgent, s.Device.UserAgent,
		fDevice, s.Device.Type,
		fLocation, s.Device.Location,
	}
}

func decode(h map[string]string) *Session {
	score, _ := strconv.ParseFloat(h[fRisk], 64)
	return &Session{
		ID:             h[fID],
		IdentityID:     h[fIdentity],
		TenantID:       h[fTenant],
		Portal:         h[fPortal],
		State:          State(h[fState]),
		Blacklisted:    h[fBlacklist] == "1",
		Nonce:          h[fNonce],
		SuperAccount:   h[fSuper] == "1",
		CreatedAt:      fromMillis(h[fCreated]),
		LastActivityAt: fromMillis(h[fLast]),
		EndedAt:        fromMillis(h[fEnded]),
		Risk: Risk{
			Score:      score,
			Suspicious: h[fSuspicious] == "1",
			MFAUsed:    h[fMFA] == "1",
		},
		Device: Device{
			IP:        h[fIP],
			UserAgent: h[fUserAgent],
			Type:      h[fDevice],
			Location:  h[fLocation],
		},
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return time.Time{}
		}
		ms = int64(f)
	}
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
