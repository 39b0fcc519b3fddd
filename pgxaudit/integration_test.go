//go:build integration

package pgxaudit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	audit "github.com/fanengagement/go-audit"
	"github.com/fanengagement/go-audit/pgxaudit"
)

func newPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("audit"),
		tcpostgres.WithUsername("audit"),
		tcpostgres.WithPassword("audit"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxaudit.NewPool(ctx, pgxaudit.PoolConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pgxaudit.Migrate(pool))
	return pool
}

func event(t *testing.T, at time.Time, org *uuid.UUID, actor string) audit.Event {
	t.Helper()
	b := audit.NewEvent().
		WithClock(func() time.Time { return at }).
		Actor(audit.ActorContext{ID: uuid.New(), DisplayName: actor, IPAddress: "198.51.100.4"}).
		Action(audit.ActionUpdated).
		Resource(audit.ResourceMembership, uuid.New(), "membership").
		Detail("role", "admin")
	if org != nil {
		b.Organization(*org, "Fan Club")
	}
	e, err := b.Build()
	require.NoError(t, err)
	return *e
}

func TestPostgresStore(t *testing.T) {
	pool := newPostgres(t)
	store := pgxaudit.NewStore(pool, pgxaudit.StoreOptions{})
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)
	org := uuid.New()

	events := []audit.Event{
		event(t, base.Add(-3*time.Minute), &org, "alice"),
		event(t, base.Add(-2*time.Minute), &org, "bob_smith"),
		event(t, base.Add(-time.Minute), nil, "carol"),
	}
	require.NoError(t, store.InsertBatch(ctx, events))

	t.Run("insert is idempotent", func(t *testing.T) {
		require.NoError(t, store.InsertBatch(ctx, events))
		_, total, err := store.Query(ctx, audit.Filter{}, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
	})

	t.Run("get round trips every field", func(t *testing.T) {
		got, err := store.Get(ctx, events[0].ID)
		require.NoError(t, err)
		assert.Equal(t, events[0].ID, got.ID)
		assert.True(t, events[0].Timestamp.Equal(got.Timestamp))
		assert.Equal(t, *events[0].ActorName, *got.ActorName)
		assert.Equal(t, *events[0].OrganizationID, *got.OrganizationID)
		assert.JSONEq(t, string(events[0].Details), string(got.Details))
		assert.Nil(t, got.FailureReason)
	})

	t.Run("query filters and orders newest first", func(t *testing.T) {
		items, total, err := store.Query(ctx, audit.Filter{OrganizationID: &org}, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, items, 2)
		assert.Equal(t, events[1].ID, items[0].ID)
	})

	t.Run("search escapes wildcards", func(t *testing.T) {
		_, total, err := store.Query(ctx, audit.Filter{Search: "b_s"}, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		_, total, err = store.Query(ctx, audit.Filter{Search: "b%"}, 0, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("stream pages through everything", func(t *testing.T) {
		var n int
		for _, err := range store.Stream(ctx, audit.Filter{}, 2) {
			require.NoError(t, err)
			n++
		}
		assert.Equal(t, 3, n)
	})

	t.Run("rows cannot be updated", func(t *testing.T) {
		_, err := pool.Exec(ctx, `UPDATE audit.audit_events SET outcome = 'Failure' WHERE id = $1`, events[0].ID)
		assert.Error(t, err)
	})

	t.Run("delete before is exclusive", func(t *testing.T) {
		n, err := store.DeleteBefore(ctx, events[1].Timestamp, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		_, err = store.Get(ctx, events[1].ID)
		assert.NoError(t, err)
	})
}

func TestMigrationVersion(t *testing.T) {
	pool := newPostgres(t)
	version, dirty, err := pgxaudit.MigrationVersion(pool)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)
}
