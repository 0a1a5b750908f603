package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	entries []Entry
	gotOff  int
	gotLim  int
}

func (f *fakeRepo) ListEntries(_ context.Context, filters Filters, offset, limit int) ([]Entry, error) {
	f.gotOff, f.gotLim = offset, limit
	var out []Entry
	for _, entry := range f.entries {
		if filters.Entity != "" && entry.Entity != filters.Entity {
			continue
		}
		out = append(out, entry)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func seedEntries(n int) []Entry {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{
			ID:       int64(i + 1),
			Action:   "ledger.post",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", i+1),
			At:       base.Add(-time.Duration(i) * time.Minute),
		})
	}
	return entries
}

func TestTimelinePaging(t *testing.T) {
	repo := &fakeRepo{entries: seedEntries(25)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), Filters{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, result.Rows, 20)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Zero(t, result.Paging.PrevPage)
	require.Equal(t, 21, repo.gotLim, "over-reads one row to detect the next page")

	result, err = svc.Timeline(context.Background(), Filters{Page: 2, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, result.Rows, 5)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := &fakeRepo{entries: seedEntries(60)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), Filters{PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, 50, result.Paging.PageSize)
	require.Len(t, result.Rows, 50)

	result, err = svc.Timeline(context.Background(), Filters{Page: -3})
	require.NoError(t, err)
	require.Equal(t, 1, result.Paging.Page)
	require.Equal(t, 0, repo.gotOff)
}

func TestTimelineEntityFilter(t *testing.T) {
	repo := &fakeRepo{entries: []Entry{
		{ID: 1, Entity: "journal_entry", EntityID: "1"},
		{ID: 2, Entity: "sale", EntityID: "a"},
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), Filters{Entity: "sale"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, "sale", result.Rows[0].Entity)
}
