package tool

import (
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewServer creates an MCP server exposing statistics of cached queries.
func NewServer(store cacheLoader, now func() time.Time) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "gmail-analyzer", Version: "v0.0.1"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mailbox_stats",
		Description: "Statistics of cached Gmail message metadata for a search query: totals, top senders, yearly distribution and inactive senders",
	}, NewMailboxStats(store, now).MailboxStats)

	return server
}
