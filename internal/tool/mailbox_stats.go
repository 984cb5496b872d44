package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hal9000y/gmail-analyzer/internal/cache"
	"github.com/hal9000y/gmail-analyzer/internal/stats"
)

type MailboxStatsRequest struct {
	Query        string `json:"query,omitempty" jsonschema:"the Gmail search query the data was pulled with, empty for all mail"`
	Top          int    `json:"top,omitempty" jsonschema:"number of senders and busiest days to return"`
	InactiveDays int    `json:"inactive_days,omitempty" jsonschema:"report senders without mail for more than this many days"`
}

type SenderStat struct {
	Sender   EmailAddress `json:"sender" jsonschema:"the sender"`
	Count    int          `json:"count" jsonschema:"number of messages"`
	LastSeen string       `json:"last_seen,omitempty" jsonschema:"latest message timestamp in UTC"`
}

type DayStat struct {
	Day   string `json:"day" jsonschema:"day as YYYY-MM-DD"`
	Count int    `json:"count" jsonschema:"number of messages"`
}

type YearStat struct {
	Year        int       `json:"year" jsonschema:"calendar year, 0 for messages without a date"`
	Count       int       `json:"count" jsonschema:"number of messages"`
	BusiestDays []DayStat `json:"busiest_days" jsonschema:"days with most messages"`
}

type InactiveStat struct {
	Sender    EmailAddress `json:"sender" jsonschema:"the sender"`
	LastSeen  string       `json:"last_seen" jsonschema:"latest message timestamp in UTC"`
	DaysSince int          `json:"days_since" jsonschema:"whole days since the latest message"`
}

type MailboxStatsResponse struct {
	Query      string          `json:"query" jsonschema:"the search query"`
	CachedAt   string          `json:"cached_at" jsonschema:"when the data was pulled, UTC"`
	Total      int             `json:"total" jsonschema:"number of messages"`
	Senders    int             `json:"senders" jsonschema:"number of distinct senders"`
	FirstEmail *MessageSummary `json:"first_email,omitempty" jsonschema:"earliest message"`
	LastEmail  *MessageSummary `json:"last_email,omitempty" jsonschema:"latest message"`
	AvgPerDay  float64         `json:"avg_per_day" jsonschema:"average messages per day"`
	TopSenders []SenderStat    `json:"top_senders" jsonschema:"senders by message count"`
	Years      []YearStat      `json:"years" jsonschema:"messages per year"`
	Inactive   []InactiveStat  `json:"inactive,omitempty" jsonschema:"senders inactive beyond inactive_days"`
}

type cacheLoader interface {
	Load(ctx context.Context, query string) (*cache.Entry, error)
}

func NewMailboxStats(store cacheLoader, now func() time.Time) *MailboxStats {
	if now == nil {
		now = time.Now
	}

	return &MailboxStats{
		store: store,
		now:   now,
	}
}

type MailboxStats struct {
	store cacheLoader
	now   func() time.Time
}

func (t *MailboxStats) MailboxStats(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input MailboxStatsRequest,
) (*mcp.CallToolResult, MailboxStatsResponse, error) {
	if input.InactiveDays < 0 {
		return nil, MailboxStatsResponse{}, fmt.Errorf("inactive_days must not be negative")
	}

	entry, err := t.store.Load(ctx, input.Query)
	if err != nil {
		return nil, MailboxStatsResponse{}, fmt.Errorf("query %q: %w", input.Query, err)
	}

	opts := stats.Options{
		Top:          normalizeTop(input.Top),
		InactiveDays: input.InactiveDays,
		Now:          t.now(),
	}
	snap := stats.Compute(entry.Records, opts)

	return nil, newMailboxStatsResponse(entry, snap, opts), nil
}

func newMailboxStatsResponse(entry *cache.Entry, snap stats.Snapshot, opts stats.Options) MailboxStatsResponse {
	res := MailboxStatsResponse{
		Query:      entry.Query,
		CachedAt:   formatTime(entry.CreatedAt),
		Total:      snap.Total,
		Senders:    snap.Senders,
		FirstEmail: newMessageSummary(snap.Earliest),
		LastEmail:  newMessageSummary(snap.Latest),
		AvgPerDay:  snap.AvgPerDay,
		TopSenders: make([]SenderStat, 0, len(snap.TopSenders)),
		Years:      make([]YearStat, 0, len(snap.Years)),
	}

	for _, s := range snap.TopSenders {
		res.TopSenders = append(res.TopSenders, SenderStat{
			Sender:   EmailAddress{Name: s.Name, Email: s.Address},
			Count:    s.Count,
			LastSeen: formatTime(s.LastSeen),
		})
	}

	for _, y := range snap.Years {
		days := make([]DayStat, 0, len(y.BusiestDays))
		for _, d := range y.BusiestDays {
			days = append(days, DayStat{Day: d.Day, Count: d.Count})
		}
		res.Years = append(res.Years, YearStat{Year: y.Year, Count: y.Count, BusiestDays: days})
	}

	for i, s := range snap.Inactive {
		if i == opts.Top {
			break
		}
		res.Inactive = append(res.Inactive, InactiveStat{
			Sender:    EmailAddress{Name: s.Name, Email: s.Address},
			LastSeen:  formatTime(s.LastSeen),
			DaysSince: s.DaysSince,
		})
	}

	return res
}

func normalizeTop(top int) int {
	if top <= 0 {
		return 10
	}
	if top > 100 {
		return 100
	}
	return top
}
