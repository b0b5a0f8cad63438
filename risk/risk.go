package risk

import (
	"net/netip"
	"strings"
	"time"
)

const (
	failedAttemptWeight  = 0.2
	locationChangeWeight = 0.3
	deviceChangeWeight   = 0.2
	offHoursWeight       = 0.1

	defaultFailedCap  = 0.6
	defaultThreshold  = 0.7
	defaultDayStart   = 6
	defaultDayEnd     = 22
	defaultWindowSize = 15 * time.Minute
)

// Config tunes the scorer.
type Config struct {
	// FailedAttemptWindow bounds which failures count as recent.
	FailedAttemptWindow time.Duration
	// FailedAttemptCap caps the failed-attempt contribution.
	FailedAttemptCap float64
	// SuspiciousThreshold is exclusive: score > threshold is suspicious.
	SuspiciousThreshold float64
	// Location is used for the hour-of-day rule. nil means UTC.
	Location *time.Location
	DayStartHour int
	DayEndHour   int
}

// Input is everything the scorer looks at.
type Input struct {
	RecentFailures    int
	LastLoginLocation string
	LastLoginDevice   string
	Location          string
	DeviceType        string
	Now               time.Time
}

// Assessment is the scorer output.
type Assessment struct {
	Score      float64
	Suspicious bool
	Reasons    []string
}

// Scorer is pure and safe for concurrent use.
type Scorer struct {
	cfg Config
}

// NewScorer fills zero fields of cfg with defaults.
func NewScorer(cfg Config) *Scorer {
	if cfg.FailedAttemptWindow <= 0 {
		cfg.FailedAttemptWindow = defaultWindowSize
	}
	if cfg.FailedAttemptCap <= 0 {
		cfg.FailedAttemptCap = defaultFailedCap
	}
	if cfg.SuspiciousThreshold <= 0 {
		cfg.SuspiciousThreshold = defaultThreshold
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DayStartHour == 0 && cfg.DayEndHour == 0 {
		cfg.DayStartHour, cfg.DayEndHour = defaultDayStart, defaultDayEnd
	}
	return &Scorer{cfg: cfg}
}

// Window returns the failed-attempt lookback window.
func (s *Scorer) Window() time.Duration { return s.cfg.FailedAttemptWindow }

// Score evaluates in. The result is clamped to [0, 1].
func (s *Scorer) Score(in Input) Assessment {
	var (
		score   float64
		reasons []string
	)

	if in.RecentFailures > 0 {
		contrib := float64(in.RecentFailures) * failedAttemptWeight
		if contrib > s.cfg.FailedAttemptCap {
			contrib = s.cfg.FailedAttemptCap
		}
		score += contrib
		reasons = append(reasons, "recent_failures")
	}
	if changed(in.LastLoginLocation, in.Location) {
		score += locationChangeWeight
		reasons = append(reasons, "location_change")
	}
	if changed(in.LastLoginDevice, in.DeviceType) {
		score += deviceChangeWeight
		reasons = append(reasons, "device_change")
	}
	if !in.Now.IsZero() {
		hour := in.Now.In(s.cfg.Location).Hour()
		if hour < s.cfg.DayStartHour || hour >= s.cfg.DayEndHour {
			score += offHoursWeight
			reasons = append(reasons, "off_hours")
		}
	}

	score = clamp(score)
	return Assessment{
		Score:      score,
		Suspicious: score > s.cfg.SuspiciousThreshold,
		Reasons:    reasons,
	}
}

// changed treats an unknown previous value as no change, so first logins are
// not penalized.
func changed(previous, current string) bool {
	return previous != "" && current != "" && previous != current
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		// round away float noise such as 0.30000000000000004
		return float64(int64(v*1000+0.5)) / 1000
	}
}

// CoarseLocation reduces an IP to a network-sized bucket: /16 for IPv4, /48
// for IPv6. Loopback and private ranges collapse to "private".
func CoarseLocation(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "unknown"
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() {
		return "private"
	}
	bits := 48
	if addr.Is4() {
		bits = 16
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "unknown"
	}
	return prefix.String()
}

// DeviceType classifies a User-Agent into mobile, tablet, desktop, bot or unknown.
func DeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "unknown"
	case containsAny(ua, "bot", "crawler", "spider", "curl/", "wget/", "python-requests", "go-http-client"):
		return "bot"
	case containsAny(ua, "ipad", "tablet") || (strings.Contains(ua, "android") && !strings.Contains(ua, "mobile")):
		return "tablet"
	case containsAny(ua, "mobile", "iphone", "ipod", "android", "windows phone"):
		return "mobile"
	case containsAny(ua, "windows", "macintosh", "mac os x", "x11", "linux", "cros"):
		return "desktop"
	default:
		return "unknown"
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
