package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nicacher/nicacher/pkg/database"
	"github.com/nicacher/nicacher/pkg/lifecycle"
)

func TestDecideCacheNarBegin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current database.Status
		force   bool
		want    lifecycle.Outcome
	}{
		{"absent begins fetching", "", false, lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess, Target: database.StatusFetching}},
		{"not available begins fetching", database.StatusNotAvailable, false, lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess, Target: database.StatusFetching}},
		{"available refreshed when forced", database.StatusAvailable, true, lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess, Target: database.StatusFetching}},
		{"available killed when not forced", database.StatusAvailable, false, lifecycle.Outcome{Kind: lifecycle.OutcomeKill}},
		{"fetching always killed", database.StatusFetching, false, lifecycle.Outcome{Kind: lifecycle.OutcomeKill}},
		{"fetching always killed even forced", database.StatusFetching, true, lifecycle.Outcome{Kind: lifecycle.OutcomeKill}},
		{"purging rescheduled when forced", database.StatusPurging, true, lifecycle.Outcome{Kind: lifecycle.OutcomeReschedule, Delay: 10 * time.Second}},
		{"purging killed when not forced", database.StatusPurging, false, lifecycle.Outcome{Kind: lifecycle.OutcomeKill}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := lifecycle.Decide(tt.current, lifecycle.EventCacheNarBegin, tt.force)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecidePurgeNarBegin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current database.Status
		force   bool
		want    lifecycle.Outcome
	}{
		{"available begins purging", database.StatusAvailable, false, lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess, Target: database.StatusPurging}},
		{"not available killed unless forced", database.StatusNotAvailable, false, lifecycle.Outcome{Kind: lifecycle.OutcomeKill}},
		{"not available purges when forced", database.StatusNotAvailable, true, lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess, Target: database.StatusPurging}},
		{"absent purges when forced", "", true, lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess, Target: database.StatusPurging}},
		{"fetching killed unless forced", database.StatusFetching, false, lifecycle.Outcome{Kind: lifecycle.OutcomeKill}},
		{"fetching rescheduled when forced", database.StatusFetching, true, lifecycle.Outcome{Kind: lifecycle.OutcomeReschedule, Delay: 10 * time.Second}},
		{"purging always killed", database.StatusPurging, false, lifecycle.Outcome{Kind: lifecycle.OutcomeKill}},
		{"purging always killed even forced", database.StatusPurging, true, lifecycle.Outcome{Kind: lifecycle.OutcomeKill}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := lifecycle.Decide(tt.current, lifecycle.EventPurgeNarBegin, tt.force)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecideTerminalEvents(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess, Target: database.StatusAvailable},
		lifecycle.Decide(database.StatusFetching, lifecycle.EventCacheNarInstalled, false))

	assert.Equal(t,
		lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess, Target: database.StatusNotAvailable},
		lifecycle.Decide(database.StatusFetching, lifecycle.EventCacheNarFailed, false))

	assert.Equal(t,
		lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess},
		lifecycle.Decide(database.StatusPurging, lifecycle.EventPurgeNarRemoved, false))
}
