package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hal9000y/gmail-analyzer/internal/message"
)

// CSVHeader is the column set of exported files.
var CSVHeader = []string{
	"id", "thread_id", "from", "sender_name", "sender_address",
	"date", "received", "subject", "labels", "size_estimate",
}

// WriteCSV writes one row per record to path, replacing any existing file.
func WriteCSV(path string, records []message.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("os.Create failed: %w", err)
	}

	if err := EncodeCSV(f, records); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("f.Close failed: %w", err)
	}

	return nil
}

// EncodeCSV writes the header and one row per record to w.
func EncodeCSV(w io.Writer, records []message.Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("csv.Write failed: %w", err)
	}

	for _, rec := range records {
		var received string
		if !rec.Received.IsZero() {
			received = rec.Received.UTC().Format(time.RFC3339)
		}

		row := []string{
			rec.ID,
			rec.ThreadID,
			rec.From,
			rec.Sender.Name,
			rec.Sender.Address,
			rec.Date,
			received,
			rec.Subject,
			strings.Join(rec.Labels, ","),
			strconv.FormatInt(rec.SizeEstimate, 10),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv.Write failed: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csv.Flush failed: %w", err)
	}

	return nil
}
