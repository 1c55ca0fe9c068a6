// Package gateway defines the narrow contract the messaging core uses to reach the
// hosted data platform: filtered queries, inserts, updates and a realtime change feed.
package gateway

import (
	"context"
	"time"
)

// Collections used by the messaging core
const (
	Threads        = "threads"
	Messages       = "messages"
	Profiles       = "profiles"
	ThreadOverview = "thread_overview"
)

// Op is a filter operator
type Op string

const (
	OpEq     Op = "eq"
	OpIn     Op = "in"
	OpIsNull Op = "is_null"
)

// Filter restricts a query, update or subscription to matching rows
type Filter struct {
	Column string `json:"column"`
	Op     Op     `json:"op"`
	Value  any    `json:"value,omitempty"`
}

// Eq matches rows whose column equals value
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// In matches rows whose column is one of values
func In[T any](column string, values []T) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Filter{Column: column, Op: OpIn, Value: vs}
}

// IsNull matches rows whose column is NULL
func IsNull(column string) Filter {
	return Filter{Column: column, Op: OpIsNull}
}

// Order sorts query results
type Order struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// Query describes a read against one collection
type Query struct {
	Collection string   `json:"collection"`
	Columns    []string `json:"columns,omitempty"`
	Filters    []Filter `json:"filters,omitempty"`
	Order      []Order  `json:"order,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// Row is a loosely typed record as the platform returns it.
// Typed entities are built from rows at the messaging core's boundary.
type Row map[string]any

// ChangeType is the kind of row change carried by the feed
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
)

// Change is one realtime feed event
type Change struct {
	Type       ChangeType `json:"type"`
	Collection string     `json:"collection"`
	Row        Row        `json:"row"`
}

// SubscribeRequest describes which changes a subscriber wants
type SubscribeRequest struct {
	Collection string       `json:"collection"`
	Events     []ChangeType `json:"events,omitempty"`
	Filters    []Filter     `json:"filters,omitempty"`
}

// Gateway is the remote data platform as seen by the messaging core
type Gateway interface {
	Query(ctx context.Context, q Query) ([]Row, error)
	Insert(ctx context.Context, collection string, row Row) (Row, error)
	Update(ctx context.Context, collection string, filters []Filter, patch Row) (int64, error)
	// Subscribe opens a change feed. The subscription is released by Close or when ctx ends.
	Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error)
}

// TimeLayout is the fixed-width UTC layout used for stored timestamps, so that
// lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t for storage
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
