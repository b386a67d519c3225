package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kiranshivaraju/eventsync/internal/reconcile"
	"github.com/kiranshivaraju/eventsync/internal/slack"
	"github.com/kiranshivaraju/eventsync/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	apiErr := func(k slack.Kind) error {
		return fmt.Errorf("wrapped: %w", &slack.APIError{Kind: k, Method: "m"})
	}
	tests := []struct {
		name string
		err  error
		want reconcile.Category
	}{
		{"rate limited", apiErr(slack.KindRateLimited), reconcile.ExternalTransient},
		{"transient", apiErr(slack.KindTransient), reconcile.ExternalTransient},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), reconcile.ExternalTransient},
		{"unauthorized", apiErr(slack.KindUnauthorized), reconcile.ExternalPermanent},
		{"not found", apiErr(slack.KindNotFound), reconcile.NotFound},
		{"conflict", apiErr(slack.KindConflict), reconcile.Rejected},
		{"invalid", apiErr(slack.KindInvalid), reconcile.Rejected},
		{"duplicate key", fmt.Errorf("persist: %w", store.ErrDuplicateKey), reconcile.DataInconsistency},
		{"link conflict", store.ErrLinkConflict, reconcile.DataInconsistency},
		{"inconsistency", reconcile.ErrDataInconsistency, reconcile.DataInconsistency},
		{"other", errors.New("connection reset"), reconcile.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reconcile.Classify(tt.err))
		})
	}
}

func TestReport_Helpers(t *testing.T) {
	rep := reconcile.Report{
		Failures: []reconcile.Failure{
			{Category: reconcile.ExternalTransient},
			{Category: reconcile.ExternalTransient},
			{Category: reconcile.ExternalPermanent},
		},
	}
	assert.False(t, rep.OK())
	assert.True(t, rep.Permanent())
	assert.Equal(t, map[reconcile.Category]int{
		reconcile.ExternalTransient: 2,
		reconcile.ExternalPermanent: 1,
	}, rep.CountBy())

	assert.True(t, reconcile.Report{}.OK())
	assert.False(t, reconcile.Report{}.Permanent())
}
