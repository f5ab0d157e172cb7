package checkout

import "strings"

// SessionPlan maps a package duration code to the number of sessions one
// unit of that package grants.
type SessionPlan struct {
	sessions map[string]int
}

var defaultSessions = map[string]int{
	"one-time": 1,
	"monthly":  30,
}

// NewSessionPlan layers overrides on top of the built-in codes. Codes are
// matched case-insensitively.
func NewSessionPlan(overrides map[string]int) SessionPlan {
	sessions := make(map[string]int, len(defaultSessions)+len(overrides))
	for code, n := range defaultSessions {
		sessions[code] = n
	}
	for code, n := range overrides {
		if n > 0 {
			sessions[strings.ToLower(strings.TrimSpace(code))] = n
		}
	}
	return SessionPlan{sessions: sessions}
}

// SessionsFor returns the sessions granted per unit; unknown codes grant 1.
func (p SessionPlan) SessionsFor(duration string) int {
	if n, ok := p.sessions[strings.ToLower(strings.TrimSpace(duration))]; ok {
		return n
	}
	if p.sessions == nil {
		if n, ok := defaultSessions[strings.ToLower(strings.TrimSpace(duration))]; ok {
			return n
		}
	}
	return 1
}
