// Package gservice wraps the Gmail API calls used to pull message metadata.
package gservice

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hal9000y/gmail-analyzer/internal/message"
)

// DefaultUserID addresses the authenticated user.
const DefaultUserID = "me"

const (
	listFields     = "messages(id,threadId),nextPageToken,resultSizeEstimate"
	metadataFields = "id,threadId,labelIds,internalDate,sizeEstimate,payload/headers"
)

type tokenSource interface {
	TokenSource(ctx context.Context) oauth2.TokenSource
}

// NewGmail creates a lazily connected Gmail client for userID.
func NewGmail(tok tokenSource, userID string) *GMail {
	if userID == "" {
		userID = DefaultUserID
	}
	return &GMail{
		tok:    tok,
		userID: userID,
	}
}

type GMail struct {
	tok    tokenSource
	userID string

	once   sync.Once
	svc    *gmail.Service
	svcErr error
}

func (m *GMail) ListMessages(ctx context.Context, Q, pageToken string, maxResults int64) (*gmail.ListMessagesResponse, error) {
	svc, err := m.newSvc(ctx)
	if err != nil {
		return nil, fmt.Errorf("newSvc failed: %w", err)
	}

	call := svc.Users.Messages.List(m.userID).
		Q(Q).
		PageToken(pageToken).
		MaxResults(maxResults).
		Fields(listFields).
		Context(ctx)

	result, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("messages.List failed: %w", err)
	}

	return result, nil
}

func (m *GMail) GetMessageMetadata(ctx context.Context, msgID string) (*gmail.Message, error) {
	svc, err := m.newSvc(ctx)
	if err != nil {
		return nil, fmt.Errorf("newSvc failed: %w", err)
	}

	msg, err := svc.Users.Messages.Get(m.userID, msgID).
		Format("metadata").
		MetadataHeaders(message.MetadataHeaders...).
		Fields(googleapi.Field(metadataFields)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("messages.Get failed: %w", err)
	}

	return msg, nil
}

// newSvc builds the service once. The token source outlives ctx of the first call, so it is
// bound to a background context.
func (m *GMail) newSvc(_ context.Context) (*gmail.Service, error) {
	m.once.Do(func() {
		base := context.Background()
		clt := oauth2.NewClient(base, m.tok.TokenSource(base))

		svc, err := gmail.NewService(base, option.WithHTTPClient(clt))
		if err != nil {
			m.svcErr = fmt.Errorf("gmail.NewService failed: %w", err)
			return
		}
		m.svc = svc
	})

	return m.svc, m.svcErr
}
