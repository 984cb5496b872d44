// Package stats computes aggregate statistics over message records.
package stats

import (
	"cmp"
	"slices"
	"time"

	"github.com/hal9000y/gmail-analyzer/internal/message"
)

const day = 24 * time.Hour

// Options tune Compute.
type Options struct {
	// Top bounds the sender list and the busiest days of each year.
	Top int
	// InactiveDays enables the inactive sender section when positive.
	InactiveDays int
	// Now is the reference time for inactivity.
	Now time.Time
}

// SenderCount is a sender and the number of messages it sent.
type SenderCount struct {
	Address  string
	Name     string
	Count    int
	LastSeen time.Time
}

// DayCount is the number of messages received on one UTC day (YYYY-MM-DD).
type DayCount struct {
	Day   string
	Count int
}

// YearCount is the number of messages received in one UTC year. Year 0 holds records without
// a timestamp.
type YearCount struct {
	Year        int
	Count       int
	BusiestDays []DayCount
}

// InactiveSender is a sender whose latest message is older than the inactivity threshold.
type InactiveSender struct {
	Address   string
	Name      string
	LastSeen  time.Time
	DaysSince int
}

// Snapshot holds the statistics of a record set.
type Snapshot struct {
	Total      int
	Senders    int
	Earliest   *message.Record
	Latest     *message.Record
	AvgPerDay  float64
	TopSenders []SenderCount
	Years      []YearCount
	Inactive   []InactiveSender
}

type senderAcc struct {
	count    int
	name     string
	lastSeen time.Time
}

// Compute derives a Snapshot from records. It never modifies records.
func Compute(records []message.Record, opts Options) Snapshot {
	snap := Snapshot{Total: len(records)}

	senders := make(map[string]*senderAcc)
	years := make(map[int]map[string]int)
	yearTotals := make(map[int]int)

	for i := range records {
		rec := &records[i]

		acc, ok := senders[rec.Sender.Address]
		if !ok {
			acc = &senderAcc{name: rec.Sender.Name}
			senders[rec.Sender.Address] = acc
		}
		acc.count++
		if rec.Received.After(acc.lastSeen) {
			acc.lastSeen = rec.Received
			if rec.Sender.Name != "" {
				acc.name = rec.Sender.Name
			}
		}

		year := 0
		if !rec.Received.IsZero() {
			received := rec.Received.UTC()
			year = received.Year()

			if snap.Earliest == nil || received.Before(snap.Earliest.Received) {
				snap.Earliest = rec
			}
			if snap.Latest == nil || received.After(snap.Latest.Received) {
				snap.Latest = rec
			}
		}
		yearTotals[year]++
		if year != 0 {
			if years[year] == nil {
				years[year] = make(map[string]int)
			}
			years[year][rec.Received.UTC().Format(time.DateOnly)]++
		}
	}

	snap.Senders = len(senders)
	snap.AvgPerDay = avgPerDay(snap)
	snap.TopSenders = topSenders(senders, opts.Top)
	snap.Years = yearHistogram(yearTotals, years, opts.Top)
	if opts.InactiveDays > 0 {
		snap.Inactive = inactiveSenders(senders, opts.InactiveDays, opts.Now)
	}

	return snap
}

func avgPerDay(snap Snapshot) float64 {
	if snap.Earliest == nil {
		return 0
	}
	days := int(snap.Latest.Received.Sub(snap.Earliest.Received) / day)
	if days < 1 {
		days = 1
	}
	return float64(snap.Total) / float64(days)
}

func topSenders(senders map[string]*senderAcc, top int) []SenderCount {
	if top <= 0 {
		return nil
	}

	all := make([]SenderCount, 0, len(senders))
	for addr, acc := range senders {
		all = append(all, SenderCount{Address: addr, Name: acc.name, Count: acc.count, LastSeen: acc.lastSeen})
	}
	slices.SortFunc(all, func(a, b SenderCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Address, b.Address)
	})

	if len(all) > top {
		all = all[:top]
	}
	return all
}

func yearHistogram(totals map[int]int, days map[int]map[string]int, top int) []YearCount {
	out := make([]YearCount, 0, len(totals))
	for year, count := range totals {
		out = append(out, YearCount{Year: year, Count: count, BusiestDays: busiestDays(days[year], top)})
	}
	slices.SortFunc(out, func(a, b YearCount) int { return cmp.Compare(a.Year, b.Year) })
	return out
}

func busiestDays(days map[string]int, top int) []DayCount {
	if top <= 0 || len(days) == 0 {
		return nil
	}

	out := make([]DayCount, 0, len(days))
	for d, count := range days {
		out = append(out, DayCount{Day: d, Count: count})
	}
	slices.SortFunc(out, func(a, b DayCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Day, b.Day)
	})

	if len(out) > top {
		out = out[:top]
	}
	return out
}

func inactiveSenders(senders map[string]*senderAcc, threshold int, now time.Time) []InactiveSender {
	var out []InactiveSender
	for addr, acc := range senders {
		if acc.lastSeen.IsZero() {
			continue
		}
		daysSince := int(now.Sub(acc.lastSeen) / day)
		if daysSince > threshold {
			out = append(out, InactiveSender{Address: addr, Name: acc.name, LastSeen: acc.lastSeen, DaysSince: daysSince})
		}
	}
	slices.SortFunc(out, func(a, b InactiveSender) int {
		if c := cmp.Compare(b.DaysSince, a.DaysSince); c != 0 {
			return c
		}
		return cmp.Compare(a.Address, b.Address)
	})
	return out
}
