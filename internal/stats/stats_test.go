package stats_test

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hal9000y/gmail-analyzer/internal/message"
	"github.com/hal9000y/gmail-analyzer/internal/stats"
)

var now = time.Date(2025, 9, 14, 12, 0, 0, 0, time.UTC)

func rec(id, addr, name string, received time.Time) message.Record {
	return message.Record{
		ID:       id,
		Sender:   message.Address{Name: name, Address: addr},
		Received: received,
	}
}

func sampleRecords() []message.Record {
	return []message.Record{
		rec("m-001", "news@example.com", "News", time.Date(2023, 3, 1, 8, 0, 0, 0, time.UTC)),
		rec("m-002", "news@example.com", "Newsletter", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)),
		rec("m-003", "alice@example.com", "Alice", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		rec("m-004", "bob@example.com", "", time.Date(2025, 9, 10, 9, 0, 0, 0, time.UTC)),
		rec("m-005", "alice@example.com", "", time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)),
		rec("m-006", "carol@example.com", "Carol", time.Time{}),
	}
}

func TestCompute(t *testing.T) {
	records := sampleRecords()
	snap := stats.Compute(records, stats.Options{Top: 2, InactiveDays: 30, Now: now})

	assert.Equal(t, 6, snap.Total)
	assert.Equal(t, 4, snap.Senders)

	require.NotNil(t, snap.Earliest)
	require.NotNil(t, snap.Latest)
	assert.Equal(t, "m-001", snap.Earliest.ID)
	assert.Equal(t, "m-004", snap.Latest.ID)

	span := time.Date(2025, 9, 10, 9, 0, 0, 0, time.UTC).Sub(time.Date(2023, 3, 1, 8, 0, 0, 0, time.UTC))
	assert.InDelta(t, 6/float64(int(span.Hours()/24)), snap.AvgPerDay, 1e-9)

	assert.Equal(t, []stats.SenderCount{
		{Address: "alice@example.com", Name: "Alice", Count: 2, LastSeen: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)},
		{Address: "news@example.com", Name: "Newsletter", Count: 2, LastSeen: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)},
	}, snap.TopSenders)

	require.Len(t, snap.Years, 4)
	assert.Equal(t, []int{0, 2023, 2024, 2025}, []int{snap.Years[0].Year, snap.Years[1].Year, snap.Years[2].Year, snap.Years[3].Year})
	assert.Equal(t, 1, snap.Years[0].Count)
	assert.Nil(t, snap.Years[0].BusiestDays)
	assert.Equal(t, 3, snap.Years[2].Count)
	assert.Equal(t, []stats.DayCount{{Day: "2024-03-01", Count: 2}, {Day: "2024-05-02", Count: 1}}, snap.Years[2].BusiestDays)

	require.Len(t, snap.Inactive, 2)
	assert.Equal(t, "news@example.com", snap.Inactive[0].Address)
	assert.Equal(t, "alice@example.com", snap.Inactive[1].Address)
	assert.Greater(t, snap.Inactive[0].DaysSince, snap.Inactive[1].DaysSince)
}

func TestComputeEmpty(t *testing.T) {
	snap := stats.Compute(nil, stats.Options{Top: 10, InactiveDays: 5, Now: now})

	assert.Equal(t, 0, snap.Total)
	assert.Nil(t, snap.Earliest)
	assert.Zero(t, snap.AvgPerDay)
	assert.Empty(t, snap.TopSenders)
	assert.Empty(t, snap.Years)
	assert.Empty(t, snap.Inactive)
}

func TestComputeSameDay(t *testing.T) {
	day := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	records := []message.Record{
		rec("m-001", "a@example.com", "", day),
		rec("m-002", "a@example.com", "", day.Add(time.Hour)),
		rec("m-003", "b@example.com", "", day.Add(2*time.Hour)),
	}

	snap := stats.Compute(records, stats.Options{Top: 5})

	assert.InDelta(t, 3.0, snap.AvgPerDay, 1e-9)
	assert.Nil(t, snap.Inactive)
}

func TestComputeInactiveThreshold(t *testing.T) {
	records := []message.Record{
		rec("m-001", "exact@example.com", "", now.Add(-30*24*time.Hour)),
		rec("m-002", "older@example.com", "", now.Add(-31*24*time.Hour)),
	}

	snap := stats.Compute(records, stats.Options{Top: 5, InactiveDays: 30, Now: now})

	require.Len(t, snap.Inactive, 1)
	assert.Equal(t, stats.InactiveSender{
		Address:   "older@example.com",
		LastSeen:  now.Add(-31 * 24 * time.Hour),
		DaysSince: 31,
	}, snap.Inactive[0])
}

func TestComputeProperties(t *testing.T) {
	base := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

	for seed := uint64(1); seed <= 50; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			r := rand.New(rand.NewPCG(seed, seed*31))

			n := r.IntN(200)
			records := make([]message.Record, 0, n)
			for i := range n {
				var received time.Time
				if r.IntN(10) > 0 {
					received = base.Add(time.Duration(r.Int64N(int64(10 * 365 * 24 * time.Hour))))
				}
				records = append(records, rec(
					fmt.Sprintf("m-%03d", i),
					fmt.Sprintf("sender-%d@example.com", r.IntN(15)),
					"",
					received,
				))
			}
			top := r.IntN(8)

			snap := stats.Compute(records, stats.Options{Top: top, InactiveDays: 100, Now: now})

			assert.Equal(t, len(records), snap.Total)
			assert.LessOrEqual(t, len(snap.TopSenders), top)
			assert.True(t, slices.IsSortedFunc(snap.TopSenders, func(a, b stats.SenderCount) int {
				if a.Count != b.Count {
					return b.Count - a.Count
				}
				if a.Address < b.Address {
					return -1
				}
				if a.Address > b.Address {
					return 1
				}
				return 0
			}), "top senders not sorted: %+v", snap.TopSenders)

			sum := 0
			for _, y := range snap.Years {
				sum += y.Count
			}
			assert.Equal(t, snap.Total, sum)
		})
	}
}
