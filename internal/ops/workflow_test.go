package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/gather/internal/collector"
	"github.com/hpungsan/gather/internal/db"
	"github.com/hpungsan/gather/internal/dedup"
	"github.com/hpungsan/gather/internal/fetch"
	"github.com/hpungsan/gather/internal/record"
	"github.com/hpungsan/gather/internal/tracker"
)

// TestFullWorkflow exercises the collection lifecycle through the read side:
// cycle → status → cycles → files → wipe seen set → reindex → duplicate cycle drops everything
func TestFullWorkflow(t *testing.T) {
	database, s := setupTest(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req record.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(record.Envelope{
			StartTime: req.StartTime,
			ResCode:   record.ResCodeSuccess,
			ResMsg:    record.ResMsgSuccess,
			DataCnt:   2,
			Data: []record.Record{
				{"id": "A1", "tfservicedtime": "20240220", "timestamp": "2024-02-20 10:00:00"},
				{"id": "A2", "tfservicedtime": "20240220", "timestamp": "2024-02-20T10:05:00"},
			},
		})
	}))
	defer srv.Close()

	keys, err := record.NewKeySpec([]string{"id"})
	require.NoError(t, err)
	tr := tracker.New(tracker.SQLStore{DB: database}, baseTime, nil)
	d := dedup.New(keys, 288, dedup.SQLStore{DB: database}, nil)
	require.NoError(t, d.Load(ctx))

	coll := collector.New(collector.Options{
		Tracker: tr,
		Fetcher: fetch.New(fetch.Options{URL: srv.URL, KeySpec: keys}, nil, nil),
		Dedup:   d,
		Sink:    s,
		History: collector.SQLHistory{DB: database},
	})

	// 1. Cycle
	first := coll.RunCycle(ctx)
	require.NoError(t, first.Err)
	require.Equal(t, 2, first.RecordsWritten)

	// 2. Status reflects it
	status, err := Status(ctx, database, StatusInput{Sink: s, InitialStart: baseTime})
	require.NoError(t, err)
	require.True(t, status.Watermark.Initialized)
	require.Equal(t, 2, status.SeenKeys)
	require.Equal(t, 1, status.Files)
	require.Equal(t, first.CycleID, status.LastSuccess.ID)

	// 3. Cycle history
	cycles, err := ListCycles(ctx, database, ListCyclesInput{})
	require.NoError(t, err)
	require.Len(t, cycles.Items, 1)
	require.Equal(t, first.FilePath, *cycles.Items[0].FilePath)

	// 4. Files
	files, err := ListFiles(s, ListFilesInput{})
	require.NoError(t, err)
	require.Len(t, files.Items, 1)

	// 5. Lose the seen set, then rebuild it from the files
	require.NoError(t, db.ReplaceSeenKeys(ctx, database, nil))
	d = dedup.New(keys, 288, dedup.SQLStore{DB: database}, nil)
	require.NoError(t, d.Load(ctx))
	require.Zero(t, d.Count())

	rebuilt, err := Reindex(ctx, ReindexInput{Sink: s, Dedup: d}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, rebuilt.Keys)

	// 6. A rerun of the same window after the rebuild stores nothing new
	require.NoError(t, db.SetWatermark(ctx, database, db.Watermark{WindowStart: baseTime.Unix()}))
	coll = collector.New(collector.Options{
		Tracker: tr,
		Fetcher: fetch.New(fetch.Options{URL: srv.URL, KeySpec: keys}, nil, nil),
		Dedup:   d,
		Sink:    s,
		History: collector.SQLHistory{DB: database},
	})
	time.Sleep(1100 * time.Millisecond) // distinct file-name second, should anything be written
	second := coll.RunCycle(ctx)
	require.NoError(t, second.Err)
	require.Zero(t, second.RecordsWritten)
	require.Equal(t, 2, second.RecordsDropped)

	files, err = ListFiles(s, ListFilesInput{})
	require.NoError(t, err)
	require.Len(t, files.Items, 1)
}
