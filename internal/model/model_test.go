package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDailyAggregate_RegisteredAndCompletedTotals(t *testing.T) {
	agg := DailyAggregate{
		Pending:    Totals{Count: 2, VolumeBytes: 200},
		Successful: Totals{Count: 5, VolumeBytes: 500},
		Suspect:    Totals{Count: 1, VolumeBytes: 20},
		Failed:     Totals{Count: 1, VolumeBytes: 5},
	}

	registered := agg.RegisteredTotal()
	completed := agg.CompletedTotal()

	require.EqualValues(t, 9, registered.Count)
	require.EqualValues(t, 725, registered.VolumeBytes)
	require.EqualValues(t, 7, completed.Count)
	require.Equal(t, registered.Count, agg.Pending.Count+completed.Count, "pending plus completed must equal registered")
}
