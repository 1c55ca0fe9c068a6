package chat

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/logger"
	"hirenest-chat/internal/models"
	"hirenest-chat/internal/session"
)

// UnnamedThread is shown when the counterpart has no display name
const UnnamedThread = "Conversation"

const previewConcurrency = 8

// Aggregator builds the thread list for a viewer
type Aggregator struct {
	gw  gateway.Gateway
	log *slog.Logger
}

// NewAggregator creates an aggregator over gw
func NewAggregator(gw gateway.Gateway, log *slog.Logger) *Aggregator {
	return &Aggregator{
		gw:  gw,
		log: logger.OrDefault(log).With("component", "aggregator"),
	}
}

// ListThreads returns the viewer's threads, most recently active first, each with
// the counterpart's identity and a preview of its latest message. It never fails:
// when the gateway cannot be reached the list is empty.
func (a *Aggregator) ListThreads(ctx context.Context, viewer session.Identity) []models.ThreadSummary {
	if viewer.UserID == "" {
		return []models.ThreadSummary{}
	}

	summaries, err := a.fromOverview(ctx, viewer)
	if err != nil || len(summaries) == 0 {
		if err != nil {
			a.log.Debug("thread overview unavailable, using threads", "user_id", viewer.UserID, "error", err)
		}
		summaries, err = a.fromThreads(ctx, viewer)
		if err != nil {
			absorb(a.log, "list_threads", err, "user_id", viewer.UserID)
			return []models.ThreadSummary{}
		}
	}

	a.attachPreviews(ctx, summaries)

	a.log.Debug("threads listed", "user_id", viewer.UserID, "role", viewer.Role, "count", len(summaries))
	return summaries
}

// fromOverview reads the denormalized view, ordered by last activity
func (a *Aggregator) fromOverview(ctx context.Context, viewer session.Identity) ([]models.ThreadSummary, error) {
	rows, err := a.gw.Query(ctx, gateway.Query{
		Collection: gateway.ThreadOverview,
		Filters:    []gateway.Filter{gateway.Eq(viewer.Role.ParticipantColumn(), viewer.UserID)},
		Order:      []gateway.Order{{Column: "updated_at", Desc: true}},
	})
	if err != nil {
		return nil, err
	}

	// customer_id -> customer_name, provider_id -> provider_name
	side := strings.TrimSuffix(viewer.Role.CounterpartColumn(), "_id")

	summaries := make([]models.ThreadSummary, 0, len(rows))
	for _, row := range rows {
		t, err := threadFromRow(row)
		if err != nil {
			a.log.Warn("skipping malformed thread", "error", err)
			continue
		}
		summaries = append(summaries, models.ThreadSummary{
			ThreadID:          t.ID,
			CounterpartID:     optionalString(row, side+"_id"),
			CounterpartName:   displayName(optionalString(row, side+"_name")),
			CounterpartAvatar: optionalString(row, side+"_avatar_url"),
			UpdatedAt:         t.UpdatedAt,
		})
	}
	return summaries, nil
}

// fromThreads reads raw threads, ordered by creation, and joins counterpart profiles in memory
func (a *Aggregator) fromThreads(ctx context.Context, viewer session.Identity) ([]models.ThreadSummary, error) {
	rows, err := a.gw.Query(ctx, gateway.Query{
		Collection: gateway.Threads,
		Filters:    []gateway.Filter{gateway.Eq(viewer.Role.ParticipantColumn(), viewer.UserID)},
		Order:      []gateway.Order{{Column: "created_at", Desc: true}},
	})
	if err != nil {
		return nil, err
	}

	threads := make([]models.Thread, 0, len(rows))
	seen := make(map[string]bool)
	var counterparts []string
	for _, row := range rows {
		t, err := threadFromRow(row)
		if err != nil {
			a.log.Warn("skipping malformed thread", "error", err)
			continue
		}
		threads = append(threads, t)
		if c := t.Counterpart(viewer.UserID); !seen[c] {
			seen[c] = true
			counterparts = append(counterparts, c)
		}
	}

	profiles := a.profiles(ctx, counterparts)

	summaries := make([]models.ThreadSummary, 0, len(threads))
	for _, t := range threads {
		c := t.Counterpart(viewer.UserID)
		p := profiles[c]
		summaries = append(summaries, models.ThreadSummary{
			ThreadID:          t.ID,
			CounterpartID:     c,
			CounterpartName:   displayName(p.FullName),
			CounterpartAvatar: p.AvatarURL,
			UpdatedAt:         t.UpdatedAt,
		})
	}
	return summaries, nil
}

// profiles batch-fetches display identities. A failed lookup leaves names blank.
func (a *Aggregator) profiles(ctx context.Context, ids []string) map[string]models.Profile {
	out := make(map[string]models.Profile, len(ids))
	if len(ids) == 0 {
		return out
	}

	rows, err := a.gw.Query(ctx, gateway.Query{
		Collection: gateway.Profiles,
		Columns:    []string{"id", "full_name", "avatar_url"},
		Filters:    []gateway.Filter{gateway.In("id", ids)},
	})
	if err != nil {
		absorb(a.log, "profile_lookup", err, "count", len(ids))
		return out
	}
	for _, row := range rows {
		id := optionalString(row, "id")
		out[id] = models.Profile{
			ID:        id,
			FullName:  optionalString(row, "full_name"),
			AvatarURL: optionalString(row, "avatar_url"),
		}
	}
	return out
}

// attachPreviews fetches the latest message of every thread concurrently
func (a *Aggregator) attachPreviews(ctx context.Context, summaries []models.ThreadSummary) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(previewConcurrency)

	for i := range summaries {
		i := i
		g.Go(func() error {
			rows, err := a.gw.Query(gctx, gateway.Query{
				Collection: gateway.Messages,
				Columns:    []string{"content", "created_at"},
				Filters:    []gateway.Filter{gateway.Eq("thread_id", summaries[i].ThreadID)},
				Order:      []gateway.Order{{Column: "created_at", Desc: true}},
				Limit:      1,
			})
			if err != nil {
				absorb(a.log, "preview", err, "thread_id", summaries[i].ThreadID)
				return nil
			}
			if len(rows) == 0 {
				return nil
			}
			at, err := parseTime(rows[0]["created_at"])
			if err != nil {
				a.log.Warn("skipping malformed preview", "thread_id", summaries[i].ThreadID, "error", err)
				return nil
			}
			summaries[i].LastMessage = &models.Preview{
				Content:   optionalString(rows[0], "content"),
				CreatedAt: at,
			}
			return nil
		})
	}
	_ = g.Wait()
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return UnnamedThread
	}
	return name
}

// FilterSummaries keeps the threads whose counterpart name contains query, ignoring case
func FilterSummaries(list []models.ThreadSummary, query string) []models.ThreadSummary {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return list
	}
	out := make([]models.ThreadSummary, 0, len(list))
	for _, s := range list {
		if strings.Contains(strings.ToLower(s.CounterpartName), q) {
			out = append(out, s)
		}
	}
	return out
}
