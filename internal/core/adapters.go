package core

import (
	"context"
	"fmt"

	"github.com/sibylhq/sibyl/internal/source"
	"github.com/sibylhq/sibyl/internal/store"
	"github.com/sibylhq/sibyl/modules/source/confluence"
	"github.com/sibylhq/sibyl/modules/source/github"
	"github.com/sibylhq/sibyl/modules/source/jira"
	"github.com/sibylhq/sibyl/modules/source/slack"
)

// credentialed lists the sources whose adapters are built from stored
// credentials. The remaining enum ids have no adapter yet and are never
// registered.
var credentialed = []source.ID{source.Jira, source.Confluence, source.Slack, source.GitHub}

// buildAdapter constructs the adapter for id from creds.
func buildAdapter(id source.ID, creds source.CredentialsBlob) (source.Adapter, error) {
	switch id {
	case source.Jira:
		return jira.New(creds)
	case source.Confluence:
		return confluence.New(creds)
	case source.Slack:
		return slack.New(creds)
	case source.GitHub:
		return github.New(creds)
	default:
		return nil, fmt.Errorf("core: no adapter implemented for source %q", id)
	}
}

// rebuildAdapters reconciles the registry with the credentials in st:
// sources with credentials get a fresh adapter, sources without lose
// theirs. A bad credential blob drops that source and keeps going; the
// user sees the problem through /test-connection, not a dead server.
func (c *Core) rebuildAdapters(st store.Settings) error {
	for _, id := range credentialed {
		creds, ok := st.Credentials[id]
		if !ok || len(creds) == 0 {
			c.registry.Remove(id)
			continue
		}

		adapter, err := buildAdapter(id, creds)
		if err != nil {
			c.logger.Warn("adapter construction failed", "source", id, "error", err)
			c.registry.Remove(id)
			continue
		}
		if err := c.registry.Replace(adapter); err != nil {
			return err
		}
	}
	return nil
}

// TestSource implements gateway.ConnTester: build a throwaway adapter from
// creds and run one tiny search against the live service.
func (c *Core) TestSource(ctx context.Context, id source.ID, creds source.CredentialsBlob) error {
	adapter, err := buildAdapter(id, creds)
	if err != nil {
		return err
	}
	_, err = adapter.Search(ctx, "connection test", 1)
	return err
}
