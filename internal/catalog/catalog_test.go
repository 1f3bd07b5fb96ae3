package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-bot/internal/store/memory"
)

func TestCoursesAreConsistent(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range Courses() {
		assert.False(t, seen[c.ID], "duplicate course %s", c.ID)
		seen[c.ID] = true
		assert.Positive(t, c.Price)
		for i, l := range c.Lessons {
			assert.Equal(t, c.ID, l.CourseID)
			assert.Equal(t, i+1, l.Number)
		}
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, Seed(ctx, s))
	require.NoError(t, Seed(ctx, s))

	list, err := s.ListCourses(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(Courses()))
}
