package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavemine-server/internal/model"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func snapshot(id string, waves float64, at time.Time) *model.MiningSession {
	return &model.MiningSession{
		ID:         id,
		UserID:     "alice",
		EpochID:    1,
		StartTime:  at.Add(-time.Hour),
		Active:     true,
		WavesMined: waves,
		LastUpdate: at,
	}
}

func TestLedger_StoreAndGet(t *testing.T) {
	l := openTestLedger(t)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, l.Store(snapshot("s1", 12.5, now)))

	got, err := l.Get("s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.UserID)
	assert.InDelta(t, 12.5, got.WavesMined, 1e-9)
	assert.True(t, got.LastUpdate.Equal(now))

	// Absent keys read as nil without error.
	got, err = l.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLedger_StoreOverwrites(t *testing.T) {
	l := openTestLedger(t)

	now := time.Now()
	require.NoError(t, l.Store(snapshot("s1", 5, now)))
	require.NoError(t, l.Store(snapshot("s1", 9, now.Add(time.Minute))))

	got, err := l.Get("s1")
	require.NoError(t, err)
	assert.InDelta(t, 9.0, got.WavesMined, 1e-9)

	n, err := l.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedger_ForEachAndDelete(t *testing.T) {
	l := openTestLedger(t)

	now := time.Now()
	require.NoError(t, l.Store(snapshot("s1", 1, now)))
	require.NoError(t, l.Store(snapshot("s2", 2, now)))
	require.NoError(t, l.Store(snapshot("s3", 3, now)))

	// Deleting from inside the callback must be safe.
	seen := map[string]float64{}
	err := l.ForEach(func(s *model.MiningSession) error {
		seen[s.ID] = s.WavesMined
		return l.Delete(s.ID)
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"s1": 1, "s2": 2, "s3": 3}, seen)

	n, err := l.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLedger_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Store(snapshot("s1", 7, time.Now())))
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 7.0, got.WavesMined, 1e-9)
}
