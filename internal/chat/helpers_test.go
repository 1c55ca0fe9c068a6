package chat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hirenest-chat/internal/db"
	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/gateway/sqlgw"
	"hirenest-chat/internal/logger"
	"hirenest-chat/internal/models"
	"hirenest-chat/internal/session"
)

var (
	customer = session.Identity{UserID: "cust-1", Role: models.RoleCustomer}
	provider = session.Identity{UserID: "prov-1", Role: models.RoleServiceProvider}

	errGatewayDown = errors.New("gateway down")
)

func setupGateway(t *testing.T, schema db.Schema) *sqlgw.Gateway {
	t.Helper()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate(schema))

	for _, p := range []models.Profile{
		{ID: customer.UserID, FullName: "Cathy Customer", Role: models.RoleCustomer},
		{ID: provider.UserID, FullName: "Pat Plumber", AvatarURL: "https://img/pat.png", Role: models.RoleServiceProvider},
		{ID: "prov-2", FullName: "Eve Electric", Role: models.RoleServiceProvider},
	} {
		require.NoError(t, database.UpsertProfile(p))
	}

	return sqlgw.New(database, nil, logger.Discard())
}

func ts(hhmm string) string {
	t, err := time.Parse("2006-01-02 15:04", "2025-03-01 "+hhmm)
	if err != nil {
		panic(err)
	}
	return gateway.Timestamp(t)
}

func createThread(t *testing.T, gw gateway.Gateway, customerID, providerID, created, updated string) string {
	t.Helper()
	row, err := gw.Insert(context.Background(), gateway.Threads, gateway.Row{
		"customer_id": customerID,
		"provider_id": providerID,
		"created_at":  created,
		"updated_at":  updated,
	})
	require.NoError(t, err)
	return row["id"].(string)
}

func createMessage(t *testing.T, gw gateway.Gateway, row gateway.Row) string {
	t.Helper()
	stored, err := gw.Insert(context.Background(), gateway.Messages, row)
	require.NoError(t, err)
	return stored["id"].(string)
}

// stubGateway wraps a real gateway and injects failures or delays
type stubGateway struct {
	gateway.Gateway

	mu           sync.Mutex
	queryErr     map[string]error
	insertErr    func(collection string, row gateway.Row) error
	updateErr    error
	subscribeErr error
	gate         chan struct{}
	inserts      []gateway.Row

	// historyGate holds the ascending message query LoadHistory runs;
	// historyStarted is closed when that query arrives.
	historyGate    chan struct{}
	historyStarted chan struct{}
}

func newStub(inner gateway.Gateway) *stubGateway {
	return &stubGateway{Gateway: inner, queryErr: make(map[string]error)}
}

func (s *stubGateway) failQuery(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr[collection] = err
}

func (s *stubGateway) Query(ctx context.Context, q gateway.Query) ([]gateway.Row, error) {
	s.mu.Lock()
	err := s.queryErr[q.Collection]
	if err == nil {
		err = s.queryErr["*"]
	}
	gate, started := s.historyGate, s.historyStarted
	if gate != nil && isHistoryQuery(q) {
		s.historyGate = nil
	} else {
		gate = nil
	}
	s.mu.Unlock()

	if gate != nil {
		close(started)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return s.Gateway.Query(ctx, q)
}

func (s *stubGateway) Insert(ctx context.Context, collection string, row gateway.Row) (gateway.Row, error) {
	s.mu.Lock()
	s.inserts = append(s.inserts, row)
	gate, insertErr := s.gate, s.insertErr
	s.mu.Unlock()

	if gate != nil && collection == gateway.Messages {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if insertErr != nil {
		if err := insertErr(collection, row); err != nil {
			return nil, err
		}
	}
	return s.Gateway.Insert(ctx, collection, row)
}

func (s *stubGateway) Update(ctx context.Context, collection string, filters []gateway.Filter, patch gateway.Row) (int64, error) {
	s.mu.Lock()
	err := s.updateErr
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.Gateway.Update(ctx, collection, filters, patch)
}

func (s *stubGateway) Subscribe(ctx context.Context, req gateway.SubscribeRequest) (*gateway.Subscription, error) {
	s.mu.Lock()
	err := s.subscribeErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Gateway.Subscribe(ctx, req)
}

func (s *stubGateway) insertedRows() []gateway.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.Row, len(s.inserts))
	copy(out, s.inserts)
	return out
}

func isHistoryQuery(q gateway.Query) bool {
	return q.Collection == gateway.Messages && q.Limit == 0 && len(q.Order) == 1 && !q.Order[0].Desc
}
