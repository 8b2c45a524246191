package service

import (
	"context"
	"testing"
	"time"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagNames(tags []model.Tag) []string {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return names
}

func TestTagService(t *testing.T) {
	f := newAnalyzeFixture()
	svc := NewTagService(f.store.Tags(), f.store.Problems(), f.store.OCR())
	ctx := context.Background()

	alice := seedUser(f.store, "Alice", model.RoleStudent)
	bob := seedUser(f.store, "Bob", model.RoleStudent)
	mine := f.addProblem(t, alice, "数学", f.now.Add(-time.Hour), "algebra")
	f.addProblem(t, bob, "数学", f.now.Add(-2*time.Hour), "algebra", "geometry")
	f.addProblem(t, bob, "物理", f.now.Add(-3*time.Hour), "optics")

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"algebra", "geometry", "optics"}, tagNames(all))

	used, err := svc.ListMine(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"algebra"}, tagNames(used))

	t.Run("search is case insensitive and subject scoped", func(t *testing.T) {
		found, err := svc.Search(ctx, "GEO", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"geometry"}, tagNames(found))

		found, err = svc.Search(ctx, "", f.subjects["物理"].ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"optics"}, tagNames(found))

		_, err = svc.Search(ctx, "x", "not-an-id")
		assert.ErrorIs(t, err, common.ErrInvalidPayload)
	})

	t.Run("get lists every problem, get mine only the student's", func(t *testing.T) {
		algebra := used[0]

		withAll, err := svc.Get(ctx, algebra.ID)
		require.NoError(t, err)
		assert.Len(t, withAll.Problems, 2)

		withMine, err := svc.GetMine(ctx, alice, algebra.ID)
		require.NoError(t, err)
		require.Len(t, withMine.Problems, 1)
		assert.Equal(t, mine.ID, withMine.Problems[0].ID)
	})

	t.Run("unknown tag", func(t *testing.T) {
		_, err := svc.Get(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, common.ErrInvalidPayload)
		_, err = svc.Get(ctx, "bogus")
		assert.ErrorIs(t, err, common.ErrInvalidPayload)
	})
}
