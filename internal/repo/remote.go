package repo

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/pastor-macsagun/drouple-sync/pkg/enums"
	"github.com/pastor-macsagun/drouple-sync/pkg/remote"
)

// RemoteReader is the read surface entity services use for conditional
// list fetches and single-record lookups.
type RemoteReader interface {
	List(ctx context.Context, entity enums.EntityType, query url.Values, etag string) (remote.ListResult, error)
	Get(ctx context.Context, entity enums.EntityType, id string) (json.RawMessage, error)
}
