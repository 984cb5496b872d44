// Package fetch pulls message metadata page by page, retrying transient failures in rounds.
package fetch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/gmail/v1"

	"github.com/hal9000y/gmail-analyzer/internal/message"
)

const (
	// DefaultPageSize is the largest page the listing call accepts.
	DefaultPageSize = 500
	// DefaultMaxRetryRounds bounds retries when no limit is configured.
	DefaultMaxRetryRounds = 5
)

type gmailSvc interface {
	ListMessages(ctx context.Context, Q, pageToken string, maxResults int64) (*gmail.ListMessagesResponse, error)
	GetMessageMetadata(ctx context.Context, msgID string) (*gmail.Message, error)
}

// Options configure a Fetcher.
type Options struct {
	PageSize int64
	// MaxRetryRounds is the number of retry rounds allowed per page, 0 retries forever.
	MaxRetryRounds int
	// Backoff is the pause between rounds. Each page starts from a fresh copy.
	Backoff gax.Backoff
	Logger  *log.Logger
}

// Fetcher produces the complete list of records matching a query.
type Fetcher struct {
	svc     gmailSvc
	opts    Options
	backoff gax.Backoff
	logger  *log.Logger
}

// New creates a Fetcher using svc for the listing and metadata calls.
func New(svc gmailSvc, opts Options) *Fetcher {
	if opts.PageSize <= 0 || opts.PageSize > DefaultPageSize {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxRetryRounds < 0 {
		opts.MaxRetryRounds = 0
	}
	bo := opts.Backoff
	if bo.Initial == 0 {
		bo = gax.Backoff{Initial: time.Second, Max: 60 * time.Second, Multiplier: 2}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Fetcher{svc: svc, opts: opts, backoff: bo, logger: logger}
}

// Fetch lists every message matching query and fetches its metadata, preserving listing
// order. The first error that exhausts the retry budget aborts the whole pull.
func (f *Fetcher) Fetch(ctx context.Context, query string) ([]message.Record, error) {
	var (
		records []message.Record
		cursor  string
	)

	for page := 1; ; page++ {
		var resp *gmail.ListMessagesResponse
		err := f.withRounds(ctx, page, func() error {
			r, err := f.svc.ListMessages(ctx, query, cursor, f.opts.PageSize)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return nil, err
		}

		if page == 1 {
			f.logger.Info("Listing messages", "query", query, "estimate", resp.ResultSizeEstimate)
		}

		pageRecords, err := f.fetchPage(ctx, page, resp.Messages)
		if err != nil {
			return nil, err
		}
		records = append(records, pageRecords...)

		f.logger.Debug("Fetched page", "page", page, "messages", len(pageRecords), "total", len(records))

		if resp.NextPageToken == "" {
			break
		}
		cursor = resp.NextPageToken
	}

	f.logger.Info("Fetched message metadata", "messages", len(records))

	return records, nil
}

// withRounds runs op, retrying transient failures once per round.
func (f *Fetcher) withRounds(ctx context.Context, page int, op func() error) error {
	bo := f.backoff

	err := op()
	for round := 1; err != nil; round++ {
		if !isTransient(err) {
			return classify(err)
		}
		if f.exhausted(round) {
			return &FetchError{Page: page, Rounds: round - 1, Err: err}
		}

		f.logger.Warn("Listing failed, retrying", "page", page, "round", round, "error", err)
		if err := gax.Sleep(ctx, bo.Pause()); err != nil {
			return fmt.Errorf("gax.Sleep failed: %w", err)
		}

		err = op()
	}

	return nil
}

// fetchPage gets metadata for every message of a page. Each round re-attempts all messages
// still failing.
func (f *Fetcher) fetchPage(ctx context.Context, page int, refs []*gmail.Message) ([]message.Record, error) {
	bo := f.backoff

	records := make([]message.Record, len(refs))
	fetched := make([]bool, len(refs))

	pending := make([]int, len(refs))
	for i := range refs {
		pending[i] = i
	}

	for round := 0; len(pending) > 0; round++ {
		if round > 0 {
			f.logger.Warn("Retrying failed messages", "page", page, "round", round, "messages", len(pending))
			if err := gax.Sleep(ctx, bo.Pause()); err != nil {
				return nil, fmt.Errorf("gax.Sleep failed: %w", err)
			}
		}

		var (
			failed  []int
			lastErr error
		)
		for _, i := range pending {
			msg, err := f.svc.GetMessageMetadata(ctx, refs[i].Id)
			switch {
			case err == nil:
				records[i] = message.FromGmail(msg)
				fetched[i] = true
			case isNotFound(err):
				f.logger.Warn("Skipping message", "id", refs[i].Id, "error", err)
			case !isTransient(err):
				return nil, classify(err)
			default:
				f.logger.Debug("Message fetch failed", "id", refs[i].Id, "error", err)
				failed = append(failed, i)
				lastErr = err
			}
		}

		if len(failed) > 0 && f.exhausted(round+1) {
			return nil, &FetchError{Page: page, Rounds: round, MessageIDs: messageIDs(refs, failed), Err: lastErr}
		}
		pending = failed
	}

	out := records[:0]
	for i, rec := range records {
		if fetched[i] {
			out = append(out, rec)
		}
	}

	return out, nil
}

func (f *Fetcher) exhausted(round int) bool {
	return f.opts.MaxRetryRounds > 0 && round > f.opts.MaxRetryRounds
}

func messageIDs(refs []*gmail.Message, idx []int) []string {
	ids := make([]string, 0, len(idx))
	for _, i := range idx {
		ids = append(ids, refs[i].Id)
	}
	return ids
}
