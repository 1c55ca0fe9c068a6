// Package sqlgw implements the data gateway on top of the local SQLite database.
// Writes are published to an in-process change feed.
package sqlgw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"hirenest-chat/internal/db"
	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/logger"
)

var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

// Gateway serves gateway requests from a db.DB
type Gateway struct {
	db   *db.DB
	feed *gateway.Broadcaster
	log  *slog.Logger
	now  func() time.Time
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates a gateway. A nil feed gets a fresh broadcaster.
func New(database *db.DB, feed *gateway.Broadcaster, log *slog.Logger) *Gateway {
	log = logger.OrDefault(log).With("component", "sqlgw")
	if feed == nil {
		feed = gateway.NewBroadcaster(0, log)
	}
	return &Gateway{
		db:   database,
		feed: feed,
		log:  log,
		now:  time.Now,
	}
}

// Feed returns the broadcaster that receives this gateway's writes
func (g *Gateway) Feed() *gateway.Broadcaster {
	return g.feed
}

// Query runs a filtered select
func (g *Gateway) Query(ctx context.Context, q gateway.Query) ([]gateway.Row, error) {
	have, err := g.schema(q.Collection)
	if err != nil {
		return nil, err
	}
	if q.Limit < 0 {
		return nil, gateway.Errorf(gateway.CodeInvalidQuery, nil, "negative limit %d", q.Limit)
	}

	cols := q.Columns
	if len(cols) == 0 {
		cols = []string{"*"}
	} else if err := checkColumns(q.Collection, have, cols...); err != nil {
		return nil, err
	}

	sel := builder.Select(cols...).From(q.Collection)
	cond, err := where(q.Collection, have, q.Filters)
	if err != nil {
		return nil, err
	}
	if len(cond) > 0 {
		sel = sel.Where(cond)
	}
	for _, o := range q.Order {
		if err := checkColumns(q.Collection, have, o.Column); err != nil {
			return nil, err
		}
		if o.Desc {
			sel = sel.OrderBy(o.Column + " DESC")
		} else {
			sel = sel.OrderBy(o.Column + " ASC")
		}
	}
	if q.Limit > 0 {
		sel = sel.Limit(uint64(q.Limit))
	}

	query, args, err := sel.ToSql()
	if err != nil {
		return nil, gateway.Errorf(gateway.CodeInvalidQuery, err, "build query on %s", q.Collection)
	}

	return db.WithLockResult(g.db, func(conn *sqlx.DB) ([]gateway.Row, error) {
		rows, err := selectRows(ctx, conn, query, args...)
		if err != nil {
			return nil, classify(err, "query %s", q.Collection)
		}
		return rows, nil
	})
}

// Insert stores one row and returns it as stored
func (g *Gateway) Insert(ctx context.Context, collection string, row gateway.Row) (gateway.Row, error) {
	have, err := g.schema(collection)
	if err != nil {
		return nil, err
	}

	values := make(gateway.Row, len(row)+3)
	for k, v := range row {
		values[k] = v
	}
	now := gateway.Timestamp(g.now())
	if have["id"] && isBlank(values["id"]) {
		values["id"] = uuid.NewString()
	}
	for _, col := range []string{"created_at", "updated_at"} {
		if have[col] && isBlank(values[col]) {
			values[col] = now
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := checkColumns(collection, have, keys...); err != nil {
		return nil, err
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = values[k]
	}

	query, qargs, err := builder.Insert(collection).Columns(keys...).Values(args...).ToSql()
	if err != nil {
		return nil, gateway.Errorf(gateway.CodeInvalidQuery, err, "build insert on %s", collection)
	}

	stored, err := db.WithLockResult(g.db, func(conn *sqlx.DB) (gateway.Row, error) {
		if _, err := conn.ExecContext(ctx, query, qargs...); err != nil {
			return nil, classify(err, "insert %s", collection)
		}
		if !have["id"] {
			return values, nil
		}
		rows, err := selectRows(ctx, conn, "SELECT * FROM "+collection+" WHERE id = ?", values["id"])
		if err != nil || len(rows) == 0 {
			return values, nil
		}
		return rows[0], nil
	})
	if err != nil {
		return nil, err
	}

	g.log.Debug("row inserted", "collection", collection, "id", stored["id"])
	g.feed.Publish(gateway.Change{Type: gateway.ChangeInsert, Collection: collection, Row: stored})
	return stored, nil
}

// Update patches every row matching filters and returns the number of rows changed
func (g *Gateway) Update(ctx context.Context, collection string, filters []gateway.Filter, patch gateway.Row) (int64, error) {
	have, err := g.schema(collection)
	if err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, gateway.Errorf(gateway.CodeInvalidQuery, nil, "empty patch for %s", collection)
	}
	if len(filters) == 0 {
		return 0, gateway.Errorf(gateway.CodeInvalidQuery, nil, "unfiltered update on %s", collection)
	}
	for k := range patch {
		if err := checkColumns(collection, have, k); err != nil {
			return 0, err
		}
	}
	cond, err := where(collection, have, filters)
	if err != nil {
		return 0, err
	}

	query, args, err := builder.Update(collection).SetMap(map[string]any(patch)).Where(cond).ToSql()
	if err != nil {
		return 0, gateway.Errorf(gateway.CodeInvalidQuery, err, "build update on %s", collection)
	}

	type result struct {
		affected int64
		changed  []gateway.Row
	}
	res, err := db.WithLockResult(g.db, func(conn *sqlx.DB) (result, error) {
		var ids []string
		if have["id"] {
			idQuery, idArgs, err := builder.Select("id").From(collection).Where(cond).ToSql()
			if err != nil {
				return result{}, gateway.Errorf(gateway.CodeInvalidQuery, err, "build update on %s", collection)
			}
			if err := conn.SelectContext(ctx, &ids, idQuery, idArgs...); err != nil {
				return result{}, classify(err, "update %s", collection)
			}
		}

		r, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return result{}, classify(err, "update %s", collection)
		}
		affected, _ := r.RowsAffected()
		if len(ids) == 0 || affected == 0 {
			return result{affected: affected}, nil
		}

		reselect, rargs, err := builder.Select("*").From(collection).Where(squirrel.Eq{"id": ids}).ToSql()
		if err != nil {
			return result{affected: affected}, nil
		}
		changed, err := selectRows(ctx, conn, reselect, rargs...)
		if err != nil {
			g.log.Warn("reselect after update failed", "collection", collection, "error", err)
		}
		return result{affected: affected, changed: changed}, nil
	})
	if err != nil {
		return 0, err
	}

	for _, row := range res.changed {
		g.feed.Publish(gateway.Change{Type: gateway.ChangeUpdate, Collection: collection, Row: row})
	}
	return res.affected, nil
}

// Subscribe opens a change feed over the collection
func (g *Gateway) Subscribe(ctx context.Context, req gateway.SubscribeRequest) (*gateway.Subscription, error) {
	have, err := g.schema(req.Collection)
	if err != nil {
		return nil, err
	}
	for _, f := range req.Filters {
		if err := checkColumns(req.Collection, have, f.Column); err != nil {
			return nil, err
		}
	}
	return g.feed.Subscribe(ctx, req), nil
}

// schema returns the column set of a collection, or ErrUnknownCollection
func (g *Gateway) schema(collection string) (map[string]bool, error) {
	if collection == "" {
		return nil, gateway.Errorf(gateway.CodeInvalidQuery, nil, "missing collection")
	}
	cols, err := g.db.Columns(collection)
	if err != nil {
		return nil, gateway.Errorf(gateway.CodeUnavailable, err, "inspect %s", collection)
	}
	if len(cols) == 0 {
		return nil, gateway.Errorf(gateway.CodeUnknownCollection, nil, "relation %q does not exist", collection)
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	return have, nil
}

func checkColumns(collection string, have map[string]bool, names ...string) error {
	for _, n := range names {
		if !have[n] {
			return gateway.Errorf(gateway.CodeUnknownColumn, nil, "column %s.%s does not exist", collection, n)
		}
	}
	return nil
}

func where(collection string, have map[string]bool, filters []gateway.Filter) (squirrel.And, error) {
	var cond squirrel.And
	for _, f := range filters {
		if err := checkColumns(collection, have, f.Column); err != nil {
			return nil, err
		}
		switch f.Op {
		case gateway.OpEq:
			cond = append(cond, squirrel.Eq{f.Column: f.Value})
		case gateway.OpIn:
			values, ok := f.Value.([]any)
			if !ok {
				return nil, gateway.Errorf(gateway.CodeInvalidQuery, nil, "filter %s in: value is not a list", f.Column)
			}
			cond = append(cond, squirrel.Eq{f.Column: values})
		case gateway.OpIsNull:
			cond = append(cond, squirrel.Eq{f.Column: nil})
		default:
			return nil, gateway.Errorf(gateway.CodeInvalidQuery, nil, "unsupported operator %q", f.Op)
		}
	}
	return cond, nil
}

func selectRows(ctx context.Context, conn *sqlx.DB, query string, args ...any) ([]gateway.Row, error) {
	rows, err := conn.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.Row
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, gateway.Row(m))
	}
	return out, rows.Err()
}

// classify maps driver errors onto gateway codes
func classify(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return gateway.Errorf(gateway.CodeRejected, err, "%s", msg)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return gateway.Errorf(gateway.CodeUnavailable, err, "%s", msg)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
