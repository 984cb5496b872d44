// Package message defines the message metadata record shared by the fetcher, cache and stats.
package message

import (
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"google.golang.org/api/gmail/v1"
)

// MetadataHeaders are the headers requested from the Gmail API for every message.
var MetadataHeaders = []string{"From", "Date", "Subject"}

// Address is a parsed sender address.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Record contains the metadata of a single message. It is never mutated once fetched.
type Record struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id,omitempty"`
	Sender       Address   `json:"sender"`
	From         string    `json:"from,omitempty"`
	Date         string    `json:"date,omitempty"`
	Received     time.Time `json:"received"`
	Subject      string    `json:"subject,omitempty"`
	Labels       []string  `json:"labels,omitempty"`
	SizeEstimate int64     `json:"size_estimate,omitempty"`
}

// FromGmail builds a Record out of a message fetched in metadata format.
func FromGmail(msg *gmail.Message) Record {
	rec := Record{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		Labels:       msg.LabelIds,
		SizeEstimate: msg.SizeEstimate,
	}

	var h mail.Header
	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			h.Add(header.Name, header.Value)
		}
	}

	rec.From = h.Get("From")
	rec.Date = h.Get("Date")
	rec.Sender = parseSender(h, rec.From)

	if subject, err := h.Subject(); err == nil {
		rec.Subject = subject
	} else {
		rec.Subject = h.Get("Subject")
	}

	switch {
	case msg.InternalDate > 0:
		rec.Received = time.UnixMilli(msg.InternalDate).UTC()
	case rec.Date != "":
		if t, err := h.Date(); err == nil {
			rec.Received = t.UTC()
		}
	}

	return rec
}

func parseSender(h mail.Header, raw string) Address {
	list, err := h.AddressList("From")
	if err != nil || len(list) == 0 {
		return Address{Address: strings.ToLower(strings.TrimSpace(raw))}
	}

	return Address{
		Name:    strings.Trim(list[0].Name, "\""),
		Address: strings.ToLower(list[0].Address),
	}
}

// DisplayName returns the sender name when known, otherwise the address.
func (a Address) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Address
}
