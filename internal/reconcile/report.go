package reconcile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventsync/internal/slack"
	"github.com/kiranshivaraju/eventsync/internal/store"
)

// ErrDataInconsistency marks state the reconcilers refuse to resolve on their
// own, such as one Slack user matching two people of the same tenant.
var ErrDataInconsistency = errors.New("data inconsistency")

// Category is the failure taxonomy used for logging, metrics and the abort
// decision.
type Category string

const (
	// ExternalTransient failures are deferred to the next tick.
	ExternalTransient Category = "external_transient"
	// ExternalPermanent failures mean the tenant credential is unusable.
	ExternalPermanent Category = "external_permanent"
	// DataInconsistency failures need a human and are logged at error level.
	DataInconsistency Category = "data_inconsistency"
	// NotFound is an entity Slack does not know about.
	NotFound Category = "not_found"
	// Rejected is a request Slack refused for a reason other than auth.
	Rejected Category = "rejected"
	// Internal covers persistence and other local failures.
	Internal Category = "internal"
)

// Classify maps an error from the client or the store onto a Category.
func Classify(err error) Category {
	switch {
	case errors.Is(err, ErrDataInconsistency),
		errors.Is(err, store.ErrDuplicateKey),
		errors.Is(err, store.ErrLinkConflict):
		return DataInconsistency
	case errors.Is(err, slack.ErrUnauthorized):
		return ExternalPermanent
	case errors.Is(err, slack.ErrRateLimited),
		errors.Is(err, slack.ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return ExternalTransient
	case errors.Is(err, slack.ErrNotFound):
		return NotFound
	case errors.Is(err, slack.ErrConflict), errors.Is(err, slack.ErrInvalid):
		return Rejected
	default:
		return Internal
	}
}

// Step names, used as the report and log key.
const (
	StepMembers    = "members"
	StepChannels   = "channels"
	StepUsergroups = "usergroups"
)

// Failure is one unit of work that did not complete.
type Failure struct {
	EntityID uuid.UUID `json:"entity_id"`
	Entity   string    `json:"entity,omitempty"`
	Category Category  `json:"category"`
	Error    string    `json:"error"`
}

// Report aggregates the outcome of one reconciler over one tenant. Counters
// count units, not API calls.
type Report struct {
	Step string `json:"step"`

	Checked   int `json:"checked"`
	Linked    int `json:"linked,omitempty"`
	Invited   int `json:"invited,omitempty"`
	Created   int `json:"created,omitempty"`
	Renamed   int `json:"renamed,omitempty"`
	Topics    int `json:"topics,omitempty"`
	Archived  int `json:"archived,omitempty"`
	Added     int `json:"added,omitempty"`
	Removed   int `json:"removed,omitempty"`
	Unchanged int `json:"unchanged,omitempty"`
	Skipped   int `json:"skipped,omitempty"`

	Failures []Failure `json:"failures,omitempty"`

	// Aborted is set when an ExternalPermanent failure stopped the step early.
	Aborted bool `json:"aborted,omitempty"`
}

func newReport(step string) *Report {
	return &Report{Step: step}
}

// fail records err against an entity and reports whether the step must stop.
func (r *Report) fail(id uuid.UUID, entity string, err error) bool {
	c := Classify(err)
	r.Failures = append(r.Failures, Failure{
		EntityID: id,
		Entity:   entity,
		Category: c,
		Error:    err.Error(),
	})
	if c == ExternalPermanent {
		r.Aborted = true
		return true
	}
	return false
}

// OK reports whether every unit completed.
func (r Report) OK() bool {
	return len(r.Failures) == 0
}

// Permanent reports whether the tenant credential was rejected during the step.
func (r Report) Permanent() bool {
	for _, f := range r.Failures {
		if f.Category == ExternalPermanent {
			return true
		}
	}
	return false
}

// CountBy returns the number of failures per category.
func (r Report) CountBy() map[Category]int {
	out := make(map[Category]int)
	for _, f := range r.Failures {
		out[f.Category]++
	}
	return out
}
