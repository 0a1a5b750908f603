package audit

import (
	"context"
	"fmt"
	"time"
)

// Entry is one row of the audit trail, newest first.
type Entry struct {
	ID       int64
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Filters narrows the timeline. Zero values mean "no filter".
type Filters struct {
	Entity   string
	EntityID string
	Action   string
	ActorID  int64
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// PagingInfo carries cursor-free paging state for the timeline.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result bundles timeline rows with paging information.
type Result struct {
	Rows   []Entry
	Paging PagingInfo
}

// Repository reads audit rows.
type Repository interface {
	ListEntries(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error)
}

// Service answers audit trail queries over the rows the write path records.
type Service struct {
	repo Repository
}

// NewService constructs Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline fetches one page of the trail. It over-reads by a row to learn
// whether a next page exists without a count query.
func (s *Service) Timeline(ctx context.Context, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.repo.ListEntries(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
