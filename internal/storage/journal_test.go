package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/restriction_watcher/internal/alert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalWritesDatedJSONL(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, 8, 1)
	j.now = func() time.Time { return time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	require.NoError(t, j.Deliver(ctx, alert.Alert{ID: "a1", Message: alert.Message, URL: "https://www.linkedin.com/jobs/view/1/"}))
	require.NoError(t, j.Deliver(ctx, alert.Alert{ID: "a2", Message: alert.Message}))
	require.NoError(t, j.Close())

	_, err := os.Stat(filepath.Join(dir, "2026-03-04", "alerts.jsonl"))
	require.NoError(t, err)

	got, err := ReadDay(dir, "2026-03-04")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "https://www.linkedin.com/jobs/view/1/", got[0].URL)
	assert.Equal(t, "a2", got[1].ID)
}

func TestJournalRotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, 8, 1)
	day := time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC)
	j.now = func() time.Time { return day }

	// write synchronously so the clock switch lands between records
	j.write(alert.Alert{ID: "before"})
	day = day.Add(2 * time.Minute)
	j.write(alert.Alert{ID: "after"})
	require.NoError(t, j.Close())

	first, err := ReadDay(dir, "2026-03-04")
	require.NoError(t, err)
	second, err := ReadDay(dir, "2026-03-05")
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "before", first[0].ID)
	assert.Equal(t, "after", second[0].ID)
}

func TestJournalRejectsAfterClose(t *testing.T) {
	j := NewJournal(t.TempDir(), 1, 1)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	assert.Error(t, j.Deliver(context.Background(), alert.Alert{ID: "late"}))
	assert.Equal(t, "journal", j.Name())
}

func TestJournalWritesEveryAcceptedAlertWhenClosedConcurrently(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, 1024, 1)
	j.now = func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) }

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				if j.Deliver(context.Background(), alert.Alert{ID: fmt.Sprintf("a%d-%d", n, k)}) == nil {
					accepted.Add(1)
				}
			}
		}(n)
	}
	require.NoError(t, j.Close())
	wg.Wait()

	got, err := ReadDay(dir, "2026-03-04")
	require.NoError(t, err)
	assert.Len(t, got, int(accepted.Load()))
}

func TestReadDayMissing(t *testing.T) {
	got, err := ReadDay(t.TempDir(), "2026-01-01")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReadDayCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "2026-01-01"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-01-01", "alerts.jsonl"), []byte("{\"id\":\"ok\"}\n{broken\n"), 0o644))

	got, err := ReadDay(dir, "2026-01-01")
	require.Error(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].ID)
}
