package chat

import (
	"context"
	"fmt"
	"log/slog"

	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/logger"
)

// ThreadPolicy decides how concurrent find-or-create calls for one pair behave
type ThreadPolicy string

const (
	// AllowDuplicates performs find-or-create without coordination. Concurrent
	// first contacts may each create a thread.
	AllowDuplicates ThreadPolicy = "allow-duplicates"
	// SerializePairs runs find-or-create for the same pair one at a time within
	// this process, so concurrent callers converge on a single thread.
	SerializePairs ThreadPolicy = "serialize"
)

// ParseThreadPolicy validates a configured policy
func ParseThreadPolicy(s string) (ThreadPolicy, error) {
	switch ThreadPolicy(s) {
	case AllowDuplicates, SerializePairs:
		return ThreadPolicy(s), nil
	case "":
		return AllowDuplicates, nil
	}
	return "", fmt.Errorf("unknown thread policy %q", s)
}

// Resolver finds or creates the thread for a customer/provider pair
type Resolver struct {
	gw     gateway.Gateway
	policy ThreadPolicy
	locks  *PairLockManager
	log    *slog.Logger
}

// NewResolver creates a resolver
func NewResolver(gw gateway.Gateway, policy ThreadPolicy, log *slog.Logger) *Resolver {
	log = logger.OrDefault(log).With("component", "resolver")
	return &Resolver{
		gw:     gw,
		policy: policy,
		locks:  NewPairLockManager(log),
		log:    log,
	}
}

// EnsureThread returns the id of the pair's most recent thread, creating one when
// none exists or when forceNew is set. On failure the id is empty and the caller
// must not navigate to a chat.
func (r *Resolver) EnsureThread(ctx context.Context, customerID, providerID string, forceNew bool) (string, error) {
	if customerID == "" || providerID == "" {
		return "", ErrInvalidPair
	}

	if forceNew {
		return r.create(ctx, customerID, providerID)
	}

	if r.policy == SerializePairs {
		unlock, err := r.locks.Lock(ctx, pairKey(customerID, providerID))
		if err != nil {
			return "", err
		}
		defer unlock()
	}

	id, err := r.find(ctx, customerID, providerID)
	if err != nil {
		absorb(r.log, "find_thread", err, "customer_id", customerID, "provider_id", providerID)
		return "", err
	}
	if id != "" {
		r.log.Debug("existing thread", "thread_id", id)
		return id, nil
	}
	return r.create(ctx, customerID, providerID)
}

func (r *Resolver) find(ctx context.Context, customerID, providerID string) (string, error) {
	rows, err := r.gw.Query(ctx, gateway.Query{
		Collection: gateway.Threads,
		Columns:    []string{"id"},
		Filters: []gateway.Filter{
			gateway.Eq("customer_id", customerID),
			gateway.Eq("provider_id", providerID),
		},
		Order: []gateway.Order{{Column: "created_at", Desc: true}},
		Limit: 1,
	})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return optionalString(rows[0], "id"), nil
}

func (r *Resolver) create(ctx context.Context, customerID, providerID string) (string, error) {
	row, err := r.gw.Insert(ctx, gateway.Threads, gateway.Row{
		"customer_id": customerID,
		"provider_id": providerID,
	})
	if err != nil {
		absorb(r.log, "create_thread", err, "customer_id", customerID, "provider_id", providerID)
		return "", err
	}
	id := optionalString(row, "id")
	if id == "" {
		err := fmt.Errorf("%w: created thread has no id", ErrMalformedRow)
		absorb(r.log, "create_thread", err)
		return "", err
	}
	threadsCreated.Inc()
	r.log.Info("thread created", "thread_id", id, "customer_id", customerID, "provider_id", providerID)
	return id, nil
}
