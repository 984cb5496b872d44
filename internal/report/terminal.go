// Package report renders statistics for the terminal and exports message metadata.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/hal9000y/gmail-analyzer/internal/message"
	"github.com/hal9000y/gmail-analyzer/internal/stats"
)

const barWidth = 40

// Terminal writes a human readable report to w.
type Terminal struct {
	w io.Writer

	h1     lipgloss.Style
	h2     lipgloss.Style
	header lipgloss.Style
	cell   lipgloss.Style
	border lipgloss.Style
	bar    lipgloss.Style
	muted  lipgloss.Style
}

// NewTerminal creates a Terminal whose colors follow the capabilities of w.
func NewTerminal(w io.Writer) *Terminal {
	r := lipgloss.NewRenderer(w)

	return &Terminal{
		w:      w,
		h1:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).MarginTop(1),
		h2:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		header: r.NewStyle().Bold(true).Padding(0, 1),
		cell:   r.NewStyle().Padding(0, 1),
		border: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "238"}),
		bar:    r.NewStyle().Foreground(lipgloss.Color("33")),
		muted:  r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "244"}),
	}
}

// Render prints every section of the snapshot. opts are the options the snapshot was computed
// with; opts.Top also limits the inactive sender rows.
func (t *Terminal) Render(snap stats.Snapshot, opts stats.Options) error {
	sections := []func(stats.Snapshot, stats.Options) string{
		t.summary,
		t.senders,
		t.years,
		t.inactive,
	}

	for _, section := range sections {
		out := section(snap, opts)
		if out == "" {
			continue
		}
		if _, err := fmt.Fprintln(t.w, out); err != nil {
			return fmt.Errorf("fmt.Fprintln failed: %w", err)
		}
	}

	return nil
}

func (t *Terminal) summary(snap stats.Snapshot, _ stats.Options) string {
	rows := [][]string{
		{"Total emails", humanize.Comma(int64(snap.Total))},
		{"Senders", humanize.Comma(int64(snap.Senders))},
		{"First Email Date", recordDate(snap.Earliest)},
	}
	if snap.Latest != nil && snap.Latest != snap.Earliest {
		rows = append(rows,
			[]string{"Last Email Date", recordDate(snap.Latest)},
			[]string{"Avg. Emails/Day", humanize.FormatFloat("#,###.##", snap.AvgPerDay)},
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		t.h1.Render("Stats"),
		t.table(nil, rows),
	)
}

func (t *Terminal) senders(snap stats.Snapshot, opts stats.Options) string {
	title := t.h1.Render(fmt.Sprintf("Senders (top %d)", opts.Top))
	if len(snap.TopSenders) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, t.muted.Render("No senders found"))
	}

	most := snap.TopSenders[0].Count
	rows := make([][]string, 0, len(snap.TopSenders))
	for i, s := range snap.TopSenders {
		width := 1
		if most > 0 {
			width = max(1, s.Count*barWidth/most)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			senderLabel(s.Name, s.Address),
			humanize.Comma(int64(s.Count)),
			t.bar.Render(strings.Repeat("█", width)),
		})
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		t.table([]string{"#", "Sender", "Emails", ""}, rows),
	)
}

func (t *Terminal) years(snap stats.Snapshot, _ stats.Options) string {
	if len(snap.Years) == 0 {
		return ""
	}

	parts := []string{t.h1.Render("Date")}
	for _, y := range snap.Years {
		label := fmt.Sprintf("Year %d", y.Year)
		if y.Year == 0 {
			label = "Unknown date"
		}
		parts = append(parts, t.h2.Render(fmt.Sprintf("%s (%s emails)", label, humanize.Comma(int64(y.Count)))))

		if len(y.BusiestDays) == 0 {
			continue
		}
		rows := make([][]string, 0, len(y.BusiestDays))
		for _, d := range y.BusiestDays {
			rows = append(rows, []string{d.Day, humanize.Comma(int64(d.Count))})
		}
		parts = append(parts, t.table([]string{"Busiest day", "Emails"}, rows))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (t *Terminal) inactive(snap stats.Snapshot, opts stats.Options) string {
	if opts.InactiveDays <= 0 {
		return ""
	}

	if len(snap.Inactive) == 0 {
		return t.h1.Render(fmt.Sprintf("No senders inactive for more than %d days found", opts.InactiveDays))
	}

	list := snap.Inactive
	if opts.Top > 0 && len(list) > opts.Top {
		list = list[:opts.Top]
	}

	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			senderLabel(s.Name, s.Address),
			s.LastSeen.UTC().Format(time.DateTime),
			fmt.Sprintf("%d days", s.DaysSince),
		})
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		t.h1.Render(fmt.Sprintf("Senders inactive for more than %d days", opts.InactiveDays)),
		t.table([]string{"Sender", "Last Email Date", "Days Since"}, rows),
	)
}

func (t *Terminal) table(headers []string, rows [][]string) string {
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(t.border).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return t.header
			}
			return t.cell
		})
	if len(headers) > 0 {
		tbl = tbl.Headers(headers...)
	}

	return tbl.Render()
}

func recordDate(rec *message.Record) string {
	if rec == nil {
		return ""
	}
	if rec.Date != "" {
		return rec.Date
	}
	return rec.Received.UTC().Format(time.DateTime)
}

func senderLabel(name, address string) string {
	if name == "" || name == address {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}
