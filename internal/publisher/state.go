package publisher

// SessionState is where the publisher is in the login and compose flows.
type SessionState int32

const (
	StateUnauthenticated SessionState = iota
	StateEnteringUsername
	StateEnteringPassword
	StateSubmittingLogin
	StateAwaitingSecondFactor
	StateVerifying
	StateAuthenticated
	StateComposing
	StateSubmitting
	StateIdle
	StateFailed
)

var stateNames = map[SessionState]string{
	StateUnauthenticated:      "unauthenticated",
	StateEnteringUsername:     "entering_username",
	StateEnteringPassword:     "entering_password",
	StateSubmittingLogin:      "submitting_login",
	StateAwaitingSecondFactor: "awaiting_second_factor",
	StateVerifying:            "verifying",
	StateAuthenticated:        "authenticated",
	StateComposing:            "composing",
	StateSubmitting:           "submitting",
	StateIdle:                 "idle",
	StateFailed:               "failed",
}

func (s SessionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// LoggedIn reports whether the session passed verification.
func (s SessionState) LoggedIn() bool {
	switch s {
	case StateAuthenticated, StateComposing, StateSubmitting, StateIdle:
		return true
	default:
		return false
	}
}
