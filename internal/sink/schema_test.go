package sink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
)

func TestToRows(t *testing.T) {
	t.Parallel()

	rows := ToRows([]parking.Record{
		{Timestamp: "2025-07-14T08:05:03.250000Z", BeachName: "Platja Gran", Status: "Oberta"},
		{Timestamp: "2025-07-14T08:05:03.250000Z", BeachName: "Cala Estreta", Status: "Tancada"},
	})
	require.Len(t, rows, 2)
	require.Equal(t, Row{RecordedAt: "2025-07-14T08:05:03.250000Z", BeachName: "Platja Gran", Status: "Oberta"}, rows[0])
	require.Equal(t, []any{"2025-07-14T08:05:03.250000Z", "Cala Estreta", "Tancada"}, rows[1].Values())
	require.Empty(t, ToRows(nil))
}

func TestTableName(t *testing.T) {
	t.Parallel()

	name, err := TableName("")
	require.NoError(t, err)
	require.Equal(t, DefaultTable, name)

	name, err = TableName("parking_status_v2")
	require.NoError(t, err)
	require.Equal(t, "parking_status_v2", name)

	_, err = TableName("parking; DROP TABLE x")
	require.Error(t, err)
}
