// Package query is the read path: it accepts a query string, filters,
// and a page window, normalizes the query, asks the full-text index for
// matching message hits, groups them by conversation, and resolves each
// conversation's full record (and workspace) from the relational store.
//
// Per spec, an index-layer failure is retried a few times before giving
// up (an index read can be transiently unlucky under Badger's own
// compaction), while a relational-store failure resolving a hit's
// conversation is surfaced immediately — the query service never
// mutates state, so there's nothing for a retry there to wait out.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/fyrsmithlabs/agentsearch/internal/index"
	"github.com/fyrsmithlabs/agentsearch/internal/model"
	"github.com/fyrsmithlabs/agentsearch/internal/store"
)

// maxIndexRetries bounds the index-side retry the query service does on
// its own, distinct from (and smaller than) the store's internal
// write-retry loop: a read has nothing to wait out but a momentarily
// busy iterator.
const maxIndexRetries = 3

// Result is one conversation's worth of matching hits, with the
// conversation's full record resolved from the relational store.
type Result struct {
	Conversation *model.Conversation
	Hits         []model.Hit
}

// Service is the query read path over one index/store pair.
type Service struct {
	index *index.Index
	store *store.Store
}

// New builds a Service over ix and st.
func New(ix *index.Index, st *store.Store) *Service {
	return &Service{index: ix, store: st}
}

// Search runs one query, returning results grouped by conversation in
// the order their best-scoring hit appears in the underlying ranked
// hit list.
func (s *Service) Search(ctx context.Context, queryString string, filters index.Filters, limit, offset int) ([]Result, error) {
	normalized := normalizeQuery(queryString)

	var hits []model.Hit
	var err error
	for attempt := 0; attempt < maxIndexRetries; attempt++ {
		hits, err = s.index.Search(ctx, normalized, filters, limit, offset)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	if err != nil {
		return nil, err
	}

	var order []string
	byConv := make(map[string]*Result)
	for _, h := range hits {
		r, ok := byConv[h.ConversationID]
		if !ok {
			r = &Result{}
			byConv[h.ConversationID] = r
			order = append(order, h.ConversationID)
		}
		r.Hits = append(r.Hits, h)
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		conv, err := s.store.ConversationByID(ctx, id)
		if err != nil {
			return nil, err
		}
		byConv[id].Conversation = conv
		results = append(results, *byConv[id])
	}
	return results, nil
}

// normalizeQuery trims surrounding whitespace and collapses internal
// whitespace runs to a single space. The empty query is left empty,
// which the index treats as "match everything within filters".
func normalizeQuery(q string) string {
	fields := strings.Fields(q)
	return strings.Join(fields, " ")
}
