package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/store"
	"github.com/cuongbtq/tagqueue/internal/store/storetest"
)

// newTestStore connects to TAGQUEUE_TEST_DATABASE_URL and empties the
// tables. Tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TAGQUEUE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TAGQUEUE_TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)

	s := New(db, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	_, err = db.ExecContext(ctx, `TRUNCATE jobs, job_queue, processing_jobs, active_tags RESTART IDENTITY`)
	require.NoError(t, err)
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestStoreSharedAcrossClients(t *testing.T) {
	storetest.RunShared(t, func(t *testing.T, n int) []store.Store {
		stores := []store.Store{newTestStore(t)}
		dsn := os.Getenv("TAGQUEUE_TEST_DATABASE_URL")
		for len(stores) < n {
			db, err := sqlx.Connect("postgres", dsn)
			require.NoError(t, err)
			s := New(db, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			t.Cleanup(func() { _ = s.Close() })
			stores = append(stores, s)
		}
		return stores
	})
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestTaglessJobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := domain.NewJob(nil, nil)
	require.NoError(t, s.Enqueue(ctx, job))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{}, stored.Tags)
	assert.Equal(t, map[string]any{}, stored.Data)
	assert.Nil(t, stored.StartedAt)
}

func TestTagArrayNeverNil(t *testing.T) {
	v, err := tagArray(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}

func TestRowToDomain(t *testing.T) {
	row := jobRow{
		ID:     "abc",
		Status: "bogus",
	}
	_, err := row.toDomain()
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	row.Status = "pending"
	row.Data = []byte(`{"k":"v"}`)
	job, err := row.toDomain()
	require.NoError(t, err)
	assert.Equal(t, "v", job.Data["k"])
	assert.Equal(t, []string{}, job.Tags)
}
