package analytics

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhejian/pastebin/internal/events"
	"github.com/zhejian/pastebin/internal/testutil"
)

var testDB *testutil.TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = testutil.SetupTestDB(ctx)
	if err != nil {
		panic("failed to setup test database: " + err.Error())
	}

	code := m.Run()

	testDB.Teardown(ctx)
	os.Exit(code)
}

func TestSink_Record(t *testing.T) {
	ctx := context.Background()
	sink := NewSink(testDB.Pool)

	t.Run("stores the event", func(t *testing.T) {
		testDB.Cleanup(ctx)

		event := events.NewEvent(events.TypePasteCreated, "sink000001", 1_000, 0)
		require.NoError(t, sink.Record(ctx, event))

		var pasteID, eventType string
		var occurredAt int64
		err := testDB.Pool.QueryRow(ctx,
			"SELECT paste_id, event_type, occurred_at FROM paste_events WHERE event_id = $1", event.ID,
		).Scan(&pasteID, &eventType, &occurredAt)
		require.NoError(t, err)
		assert.Equal(t, "sink000001", pasteID)
		assert.Equal(t, events.TypePasteCreated, eventType)
		assert.Equal(t, int64(1_000), occurredAt)
	})

	t.Run("redelivery is ignored", func(t *testing.T) {
		testDB.Cleanup(ctx)

		event := events.NewEvent(events.TypePasteViewed, "sink000002", 2_000, 1)
		require.NoError(t, sink.Record(ctx, event))
		require.NoError(t, sink.Record(ctx, event))

		var count int
		testDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM paste_events WHERE paste_id = $1", "sink000002").Scan(&count)
		assert.Equal(t, 1, count)
	})
}

func TestSink_Stats(t *testing.T) {
	ctx := context.Background()
	sink := NewSink(testDB.Pool)

	t.Run("aggregates views", func(t *testing.T) {
		testDB.Cleanup(ctx)

		require.NoError(t, sink.Record(ctx, events.NewEvent(events.TypePasteCreated, "stats00001", 1_000, 0)))
		require.NoError(t, sink.Record(ctx, events.NewEvent(events.TypePasteViewed, "stats00001", 2_000, 1)))
		require.NoError(t, sink.Record(ctx, events.NewEvent(events.TypePasteViewed, "stats00001", 3_000, 2)))

		stats, err := sink.Stats(ctx, "stats00001")
		require.NoError(t, err)
		assert.True(t, stats.Created)
		assert.Equal(t, int64(2), stats.Views)
		require.NotNil(t, stats.LastViewed)
		assert.Equal(t, int64(3_000), *stats.LastViewed)
	})

	t.Run("unknown paste has no activity", func(t *testing.T) {
		testDB.Cleanup(ctx)

		stats, err := sink.Stats(ctx, "stats99999")
		require.NoError(t, err)
		assert.False(t, stats.Created)
		assert.Zero(t, stats.Views)
		assert.Nil(t, stats.LastViewed)
	})
}
