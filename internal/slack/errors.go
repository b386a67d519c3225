package slack

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failed Slack call.
type Kind int

const (
	KindTransient Kind = iota
	KindRateLimited
	KindNotFound
	KindUnauthorized
	KindConflict
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	default:
		return "transient"
	}
}

// Sentinel errors matched by *APIError through errors.Is.
var (
	ErrTransient    = errors.New("slack transient failure")
	ErrRateLimited  = errors.New("slack rate limited")
	ErrNotFound     = errors.New("slack entity not found")
	ErrUnauthorized = errors.New("slack credential rejected")
	ErrConflict     = errors.New("slack entity conflict")
	ErrInvalid      = errors.New("slack rejected request")
)

// ErrEmptyUsergroup is wrapped by the error returned when a removal would leave
// a usergroup without members.
var ErrEmptyUsergroup = errors.New("usergroup cannot be emptied")

var kindSentinels = map[Kind]error{
	KindTransient:    ErrTransient,
	KindRateLimited:  ErrRateLimited,
	KindNotFound:     ErrNotFound,
	KindUnauthorized: ErrUnauthorized,
	KindConflict:     ErrConflict,
	KindInvalid:      ErrInvalid,
}

// APIError is returned by every failing Client call.
type APIError struct {
	Kind       Kind
	Method     string
	Code       string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("slack %s: %s", e.Method, e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.StatusCode != 0 && e.StatusCode != 200 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// retryable reports whether the client may retry the call in-process.
func (e *APIError) retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

var codeKinds = map[string]Kind{
	"ratelimited": KindRateLimited,

	"not_authed":                KindUnauthorized,
	"invalid_auth":              KindUnauthorized,
	"account_inactive":          KindUnauthorized,
	"token_revoked":             KindUnauthorized,
	"token_expired":             KindUnauthorized,
	"no_permission":             KindUnauthorized,
	"missing_scope":             KindUnauthorized,
	"not_allowed_token_type":    KindUnauthorized,
	"team_access_not_granted":   KindUnauthorized,
	"ekm_access_denied":         KindUnauthorized,
	"org_login_required":        KindUnauthorized,
	"two_factor_setup_required": KindUnauthorized,

	"users_not_found":   KindNotFound,
	"user_not_found":    KindNotFound,
	"channel_not_found": KindNotFound,
	"no_such_subteam":   KindNotFound,
	"subteam_not_found": KindNotFound,

	"name_taken":         KindConflict,
	"already_in_team":    KindConflict,
	"already_invited":    KindConflict,
	"already_in_channel": KindConflict,
	"already_archived":   KindConflict,
	"not_in_channel":     KindConflict,

	"internal_error":      KindTransient,
	"fatal_error":         KindTransient,
	"service_unavailable": KindTransient,
	"request_timeout":     KindTransient,
}

// kindForCode maps a Slack error code to a Kind. Unknown codes are treated as
// rejected requests so they are not retried.
func kindForCode(code string) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindInvalid
}
