package retention

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-widget-server/internal/db"
	"support-widget-server/internal/metrics"
)

func TestRunOnce(t *testing.T) {
	store, err := db.Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, exp := range []time.Time{now.Add(-time.Hour), now, now.Add(time.Hour)} {
		_, err := store.CreateContactSession(ctx, db.ContactSession{
			Name: "v", Email: "v@example.com", OrganizationID: "org_1", ExpiresAt: exp,
		})
		require.NoError(t, err)
	}

	m := metrics.New()
	rm := New(store, m, "*/15 * * * *")
	rm.Now = func() time.Time { return now }

	n, err := rm.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ContactSessionsExpired))

	n, err = rm.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStart_InvalidCron(t *testing.T) {
	rm := New(nil, nil, "not a cron")
	assert.Error(t, rm.Start(context.Background()))
}

func TestStart_StopsWithContext(t *testing.T) {
	store, err := db.Open(t.TempDir())
	require.NoError(t, err)
	rm := New(store, nil, "* * * * *")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rm.Start(ctx))
	cancel()
}
