package background

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/postboard/config"
	"github.com/user/postboard/db"
	"github.com/user/postboard/enrichment"
	"github.com/user/postboard/testutil"
)

type fakeEnricher struct {
	mu       sync.Mutex
	profiles map[string]*enrichment.Profile
	failing  map[string]bool
	looked   []string
}

func (f *fakeEnricher) Lookup(_ context.Context, email string) (*enrichment.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.looked = append(f.looked, email)
	if f.failing[email] {
		return nil, errors.New("503 from provider")
	}
	if p, ok := f.profiles[email]; ok {
		return p, nil
	}
	return nil, enrichment.ErrNotFound
}

func (f *fakeEnricher) setFailing(email string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[email] = failing
}

func (f *fakeEnricher) lookups() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.looked...)
	f.looked = nil
	return out
}

type userRow struct {
	FullName   string       `db:"full_name"`
	Location   string       `db:"location"`
	EnrichedAt sql.NullTime `db:"enriched_at"`
}

func loadUser(t *testing.T, d *db.DB, id int64) userRow {
	t.Helper()
	var row userRow
	require.NoError(t, d.Get(&row, d.Rebind(`SELECT full_name, location, enriched_at FROM users WHERE id = ?`), id))
	return row
}

func newBackfill(t *testing.T, d *db.DB, enricher enrichment.Enricher, interval time.Duration) *EnrichmentBackfill {
	t.Helper()
	cfg := &config.EnrichmentConfig{Enabled: true, BackfillInterval: interval, BackfillWorkers: 2}
	return NewEnrichmentBackfill(d, enricher, cfg, zaptest.NewLogger(t))
}

func TestRunOnce(t *testing.T) {
	d := testutil.OpenDB(t)
	ada := testutil.InsertUser(t, d, testutil.UserFixture{Email: "ada@example.com", Password: "secret"})
	bob := testutil.InsertUser(t, d, testutil.UserFixture{Email: "bob@example.com", Password: "secret"})
	carol := testutil.InsertUser(t, d, testutil.UserFixture{Email: "carol@example.com", Password: "secret"})
	dave := testutil.InsertUser(t, d, testutil.UserFixture{Email: "dave@example.com", Password: "secret"})
	_, err := d.Exec(d.Rebind(`UPDATE users SET enriched_at = ? WHERE id = ?`), time.Now().UTC(), dave)
	require.NoError(t, err)

	enricher := &fakeEnricher{
		profiles: map[string]*enrichment.Profile{
			"ada@example.com":   {FullName: "Ada Lovelace", Location: "London"},
			"carol@example.com": {FullName: "Carol Shaw", Location: "Palo Alto"},
		},
		failing: map[string]bool{"carol@example.com": true},
	}
	b := newBackfill(t, d, enricher, time.Minute)
	ctx := context.Background()

	settled, err := b.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, settled)
	assert.ElementsMatch(t, []string{"ada@example.com", "bob@example.com", "carol@example.com"}, enricher.lookups())

	row := loadUser(t, d, ada)
	assert.Equal(t, "Ada Lovelace", row.FullName)
	assert.Equal(t, "London", row.Location)
	assert.True(t, row.EnrichedAt.Valid)

	row = loadUser(t, d, bob)
	assert.Empty(t, row.FullName)
	assert.True(t, row.EnrichedAt.Valid, "a definite miss is settled")

	assert.False(t, loadUser(t, d, carol).EnrichedAt.Valid, "a provider error stays pending")

	t.Run("only pending users are retried", func(t *testing.T) {
		settled, err := b.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, settled)
		assert.Equal(t, []string{"carol@example.com"}, enricher.lookups())

		enricher.setFailing("carol@example.com", false)
		settled, err = b.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, settled)
		assert.Equal(t, "Carol Shaw", loadUser(t, d, carol).FullName)
	})

	t.Run("nothing pending", func(t *testing.T) {
		settled, err := b.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, settled)
		assert.Empty(t, enricher.lookups())
	})
}

func TestRunOnce_CancelledContextLeavesUsersPending(t *testing.T) {
	d := testutil.OpenDB(t)
	id := testutil.InsertUser(t, d, testutil.UserFixture{Email: "ada@example.com", Password: "secret"})
	enricher := &fakeEnricher{failing: map[string]bool{}}
	b := newBackfill(t, d, enricher, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	settled, err := b.RunOnce(ctx)
	require.Error(t, err)
	assert.Zero(t, settled)
	assert.False(t, loadUser(t, d, id).EnrichedAt.Valid)
}

func TestRun_StopsOnCancel(t *testing.T) {
	d := testutil.OpenDB(t)
	id := testutil.InsertUser(t, d, testutil.UserFixture{Email: "ada@example.com", Password: "secret"})
	enricher := &fakeEnricher{
		profiles: map[string]*enrichment.Profile{"ada@example.com": {FullName: "Ada Lovelace"}},
		failing:  map[string]bool{},
	}
	b := newBackfill(t, d, enricher, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	assert.Eventually(t, func() bool {
		var name string
		err := d.Get(&name, d.Rebind(`SELECT full_name FROM users WHERE id = ?`), id)
		return err == nil && name == "Ada Lovelace"
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("backfill did not stop")
	}
	assert.True(t, loadUser(t, d, id).EnrichedAt.Valid)
}
