package breaker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cubtools/cub/internal/domain"
)

func failure(taskID string, category domain.ErrorCategory) Outcome {
	return Outcome{TaskID: taskID, ErrorCategory: category}
}

func closed(taskID string) Outcome {
	return Outcome{TaskID: taskID, Success: true, Closed: true}
}

func TestSameTaskFailuresTrip(t *testing.T) {
	b := New(5, 3, 10)

	b.Record(failure("proj-a-1", domain.ErrorCategoryModelError))
	b.Record(failure("proj-a-1", domain.ErrorCategoryModelError))
	tripped, _ := b.Tripped()
	assert.False(t, tripped, "two failures are below the threshold")

	b.Record(failure("proj-a-1", domain.ErrorCategoryModelError))
	tripped, reason := b.Tripped()
	assert.True(t, tripped)
	assert.Contains(t, reason, "proj-a-1")
}

func TestDistinctTaskFailuresDoNotTrip(t *testing.T) {
	b := New(5, 3, 10)

	b.Record(failure("proj-a-1", domain.ErrorCategoryModelError))
	b.Record(failure("proj-a-2", domain.ErrorCategoryNetwork))
	b.Record(failure("proj-a-3", domain.ErrorCategoryModelError))

	tripped, _ := b.Tripped()
	assert.False(t, tripped, "non-fatal failures across distinct tasks do not trip")
}

func TestFatalFailuresAcrossTasksTrip(t *testing.T) {
	b := New(5, 3, 10)

	b.Record(failure("proj-a-1", domain.ErrorCategoryAuth))
	b.Record(failure("proj-a-2", domain.ErrorCategoryHarnessMissing))
	b.Record(failure("proj-a-3", domain.ErrorCategoryAuth))

	tripped, reason := b.Tripped()
	assert.True(t, tripped)
	assert.Contains(t, reason, "fatal")
}

func TestCloseResetsStreaks(t *testing.T) {
	b := New(5, 3, 10)

	b.Record(failure("proj-a-1", domain.ErrorCategoryModelError))
	b.Record(failure("proj-a-1", domain.ErrorCategoryModelError))
	b.Record(closed("proj-a-2"))
	b.Record(failure("proj-a-1", domain.ErrorCategoryModelError))

	tripped, _ := b.Tripped()
	assert.False(t, tripped, "a close resets the same-task streak")
}

func TestSuccessWithoutCloseBreaksStreak(t *testing.T) {
	b := New(5, 3, 10)

	b.Record(failure("proj-a-1", domain.ErrorCategoryModelError))
	b.Record(failure("proj-a-1", domain.ErrorCategoryModelError))
	b.Record(Outcome{TaskID: "proj-a-1", Success: true})
	b.Record(failure("proj-a-1", domain.ErrorCategoryModelError))

	tripped, _ := b.Tripped()
	assert.False(t, tripped)
}

func TestNoProgressTrips(t *testing.T) {
	b := New(5, 3, 4)

	b.Record(Outcome{TaskID: "proj-a-1", Success: true})
	b.Record(failure("proj-a-2", domain.ErrorCategoryNetwork))
	b.Record(Outcome{TaskID: "proj-a-1", Success: true})
	tripped, _ := b.Tripped()
	assert.False(t, tripped)

	b.Record(failure("proj-a-2", domain.ErrorCategoryTimeout))
	tripped, reason := b.Tripped()
	assert.True(t, tripped)
	assert.Contains(t, reason, "no task closed")
}

func TestRecentWindowBounded(t *testing.T) {
	b := New(3, 10, 100)

	for _, id := range []string{"proj-a-1", "proj-a-2", "proj-a-3", "proj-a-4"} {
		b.Record(closed(id))
	}

	recent := b.Recent()
	assert.Len(t, recent, 3)
	assert.Equal(t, "proj-a-2", recent[0].TaskID, "oldest entry evicted")
}

func TestDefaultsApplied(t *testing.T) {
	b := New(0, 0, 0)
	assert.Equal(t, 5, b.window)
	assert.Equal(t, 3, b.sameTaskFailures)
	assert.Equal(t, 10, b.noProgress)
}
