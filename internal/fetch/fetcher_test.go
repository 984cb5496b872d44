package fetch_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/hal9000y/gmail-analyzer/internal/fetch"
)

type gmailSvcMock struct {
	ListMessagesFunc       func(ctx context.Context, Q, pageToken string, maxResults int64) (*gmail.ListMessagesResponse, error)
	GetMessageMetadataFunc func(ctx context.Context, msgID string) (*gmail.Message, error)
}

func (m *gmailSvcMock) ListMessages(ctx context.Context, Q, pageToken string, maxResults int64) (*gmail.ListMessagesResponse, error) {
	return m.ListMessagesFunc(ctx, Q, pageToken, maxResults)
}

func (m *gmailSvcMock) GetMessageMetadata(ctx context.Context, msgID string) (*gmail.Message, error) {
	return m.GetMessageMetadataFunc(ctx, msgID)
}

var noPause = gax.Backoff{Initial: time.Nanosecond, Max: time.Nanosecond, Multiplier: 1}

func unavailable() error {
	return fmt.Errorf("messages.List failed: %w", &googleapi.Error{Code: http.StatusServiceUnavailable})
}

// pagedSvc serves two pages keyed by cursor: "" -> m-001,m-002 and "cursor-2" -> m-003.
func pagedSvc() *gmailSvcMock {
	pages := map[string]*gmail.ListMessagesResponse{
		"": {
			Messages:      []*gmail.Message{{Id: "m-001"}, {Id: "m-002"}},
			NextPageToken: "cursor-2",
		},
		"cursor-2": {
			Messages: []*gmail.Message{{Id: "m-003"}},
		},
	}

	return &gmailSvcMock{
		ListMessagesFunc: func(_ context.Context, _, pageToken string, _ int64) (*gmail.ListMessagesResponse, error) {
			res, ok := pages[pageToken]
			if !ok {
				return nil, fmt.Errorf("unexpected cursor: %s", pageToken)
			}
			return res, nil
		},
		GetMessageMetadataFunc: func(_ context.Context, msgID string) (*gmail.Message, error) {
			return &gmail.Message{
				Id:           msgID,
				InternalDate: 1577225589000,
				Payload: &gmail.MessagePart{
					Headers: []*gmail.MessagePartHeader{
						{Name: "From", Value: fmt.Sprintf("Sender <%s@example.com>", msgID)},
						{Name: "Subject", Value: "Subject " + msgID},
					},
				},
			}, nil
		},
	}
}

func ids(t *testing.T, f *fetch.Fetcher) []string {
	t.Helper()

	records, err := f.Fetch(context.Background(), "label:work")
	require.NoError(t, err)

	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestFetchPaginates(t *testing.T) {
	svc := pagedSvc()

	var cursors []string
	list := svc.ListMessagesFunc
	svc.ListMessagesFunc = func(ctx context.Context, Q, pageToken string, maxResults int64) (*gmail.ListMessagesResponse, error) {
		assert.Equal(t, "label:work", Q)
		assert.Equal(t, int64(100), maxResults)
		cursors = append(cursors, pageToken)
		return list(ctx, Q, pageToken, maxResults)
	}

	f := fetch.New(svc, fetch.Options{PageSize: 100, MaxRetryRounds: 2, Backoff: noPause})

	assert.Equal(t, []string{"m-001", "m-002", "m-003"}, ids(t, f))
	assert.Equal(t, []string{"", "cursor-2"}, cursors)
}

func TestFetchListRetryRounds(t *testing.T) {
	cases := []struct {
		name      string
		failures  int
		maxRounds int
		wantErr   bool
	}{
		{name: "succeeds after two failures", failures: 2, maxRounds: 2},
		{name: "aborts after three failures", failures: 3, maxRounds: 2, wantErr: true},
		{name: "unlimited rounds", failures: 20, maxRounds: 0},
		{name: "no failures", failures: 0, maxRounds: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := pagedSvc()
			list := svc.ListMessagesFunc
			failures := 0
			svc.ListMessagesFunc = func(ctx context.Context, Q, pageToken string, maxResults int64) (*gmail.ListMessagesResponse, error) {
				if pageToken == "cursor-2" && failures < tc.failures {
					failures++
					return nil, unavailable()
				}
				return list(ctx, Q, pageToken, maxResults)
			}

			f := fetch.New(svc, fetch.Options{MaxRetryRounds: tc.maxRounds, Backoff: noPause})
			records, err := f.Fetch(context.Background(), "label:work")

			if !tc.wantErr {
				require.NoError(t, err)
				assert.Len(t, records, 3)
				return
			}

			var fetchErr *fetch.FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, 2, fetchErr.Page)
			assert.Equal(t, tc.maxRounds, fetchErr.Rounds)
			assert.Contains(t, err.Error(), "page 2")
			assert.Nil(t, records)
		})
	}
}

func TestFetchMessageRetryRounds(t *testing.T) {
	cases := []struct {
		name      string
		failures  int
		maxRounds int
		wantErr   bool
	}{
		{name: "succeeds after two failures", failures: 2, maxRounds: 2},
		{name: "aborts after three failures", failures: 3, maxRounds: 2, wantErr: true},
		{name: "unlimited rounds", failures: 10, maxRounds: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := pagedSvc()
			get := svc.GetMessageMetadataFunc
			failures := 0
			svc.GetMessageMetadataFunc = func(ctx context.Context, msgID string) (*gmail.Message, error) {
				if msgID == "m-002" && failures < tc.failures {
					failures++
					return nil, &googleapi.Error{Code: http.StatusTooManyRequests}
				}
				return get(ctx, msgID)
			}

			f := fetch.New(svc, fetch.Options{MaxRetryRounds: tc.maxRounds, Backoff: noPause})
			records, err := f.Fetch(context.Background(), "")

			if !tc.wantErr {
				require.NoError(t, err)
				ordered := make([]string, 0, len(records))
				for _, r := range records {
					ordered = append(ordered, r.ID)
				}
				assert.Equal(t, []string{"m-001", "m-002", "m-003"}, ordered)
				return
			}

			var fetchErr *fetch.FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, 1, fetchErr.Page)
			assert.Equal(t, 2, fetchErr.Rounds)
			assert.Equal(t, []string{"m-002"}, fetchErr.MessageIDs)
		})
	}
}

func TestFetchAuthErrorIsImmediate(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "unauthorized", err: &googleapi.Error{Code: http.StatusUnauthorized}},
		{name: "token refresh", err: fmt.Errorf("Get: %w", &oauth2.RetrieveError{ErrorCode: "invalid_grant"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			svc := pagedSvc()
			svc.ListMessagesFunc = func(context.Context, string, string, int64) (*gmail.ListMessagesResponse, error) {
				calls++
				return nil, tc.err
			}

			_, err := fetch.New(svc, fetch.Options{MaxRetryRounds: 0, Backoff: noPause}).Fetch(context.Background(), "")

			require.ErrorIs(t, err, fetch.ErrAuth)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestFetchPermanentErrorIsImmediate(t *testing.T) {
	calls := 0
	svc := pagedSvc()
	svc.GetMessageMetadataFunc = func(context.Context, string) (*gmail.Message, error) {
		calls++
		return nil, &googleapi.Error{Code: http.StatusBadRequest}
	}

	_, err := fetch.New(svc, fetch.Options{Backoff: noPause}).Fetch(context.Background(), "")

	var apiErr *googleapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Code)
	assert.Equal(t, 1, calls)
}

func TestFetchRateLimitedForbiddenIsRetried(t *testing.T) {
	svc := pagedSvc()
	get := svc.GetMessageMetadataFunc
	failed := false
	svc.GetMessageMetadataFunc = func(ctx context.Context, msgID string) (*gmail.Message, error) {
		if !failed {
			failed = true
			return nil, &googleapi.Error{
				Code:   http.StatusForbidden,
				Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
			}
		}
		return get(ctx, msgID)
	}

	f := fetch.New(svc, fetch.Options{MaxRetryRounds: 1, Backoff: noPause})

	assert.Equal(t, []string{"m-001", "m-002", "m-003"}, ids(t, f))
}

func TestFetchSkipsDeletedMessages(t *testing.T) {
	svc := pagedSvc()
	get := svc.GetMessageMetadataFunc
	svc.GetMessageMetadataFunc = func(ctx context.Context, msgID string) (*gmail.Message, error) {
		if msgID == "m-002" {
			return nil, &googleapi.Error{Code: http.StatusNotFound}
		}
		return get(ctx, msgID)
	}

	f := fetch.New(svc, fetch.Options{Backoff: noPause})

	assert.Equal(t, []string{"m-001", "m-003"}, ids(t, f))
}

func TestFetchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	svc := pagedSvc()
	svc.ListMessagesFunc = func(context.Context, string, string, int64) (*gmail.ListMessagesResponse, error) {
		cancel()
		return nil, errors.New("connection reset")
	}

	f := fetch.New(svc, fetch.Options{MaxRetryRounds: 0, Backoff: gax.Backoff{Initial: time.Hour, Max: time.Hour}})
	_, err := f.Fetch(ctx, "")

	require.ErrorIs(t, err, context.Canceled)
}
