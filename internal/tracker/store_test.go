package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shuttle-av/shuttle/internal/model"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	records := map[string]*model.FileRecord{
		"hash-a": {Hash: "hash-a", SourcePath: "/src/a", Status: model.StatusPending, SizeBytes: 10},
	}
	agg := model.DailyAggregate{Date: "2026-07-31", Pending: model.Totals{Count: 1, VolumeBytes: 10}}

	require.NoError(t, s.Save("2026-07-31", records, agg))

	loaded, loadedAgg, err := s.Load("2026-07-31")
	require.NoError(t, err)
	require.Equal(t, agg, loadedAgg)
	require.Len(t, loaded, 1)
	require.Equal(t, "hash-a", loaded["hash-a"].Hash)
}

func TestStore_Load_MissingDayIsNotAnError(t *testing.T) {
	s := NewStore(t.TempDir())

	records, agg, err := s.Load("2026-07-31")
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, "2026-07-31", agg.Date)
}

func TestStore_ChecksumTrailerIsAppended(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	require.NoError(t, s.Save("2026-07-31", nil, model.DailyAggregate{Date: "2026-07-31"}))

	body, err := os.ReadFile(filepath.Join(dir, "2026-07-31.state"))
	require.NoError(t, err)
	require.Contains(t, string(body), "# blake3: ")
}

func TestCloseOutStalePriorDays_ArchivesAndMarksFailed(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	records := map[string]*model.FileRecord{
		"hash-a": {Hash: "hash-a", Status: model.StatusPending, SizeBytes: 10},
	}
	agg := model.DailyAggregate{Date: "2026-07-30", Pending: model.Totals{Count: 1, VolumeBytes: 10}}
	require.NoError(t, s.Save("2026-07-30", records, agg))

	require.NoError(t, s.CloseOutStalePriorDays("2026-07-31"))

	_, err := os.Stat(filepath.Join(dir, "2026-07-30.state"))
	require.True(t, os.IsNotExist(err), "plaintext state must be removed after archiving")

	_, err = os.Stat(filepath.Join(dir, "2026-07-30.state.gz"))
	require.NoError(t, err, "a gzip archive must exist for the closed-out day")
}

func TestCloseOutStalePriorDays_LeavesTodayAlone(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	require.NoError(t, s.Save("2026-07-31", nil, model.DailyAggregate{Date: "2026-07-31"}))
	require.NoError(t, s.CloseOutStalePriorDays("2026-07-31"))

	_, err := os.Stat(filepath.Join(dir, "2026-07-31.state"))
	require.NoError(t, err)
}
