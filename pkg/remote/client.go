package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pastor-macsagun/drouple-sync/pkg/enums"
	pkgerrors "github.com/pastor-macsagun/drouple-sync/pkg/errors"
)

const (
	apiPrefix                 = "/api/v2"
	defaultTimeout            = 15 * time.Second
	errorBodyReadLimit  int64 = 2048
	headerIdempotency         = "Idempotency-Key"
	headerIfNoneMatch         = "If-None-Match"
	headerETag                = "ETag"
)

var errBaseURLRequired = errors.New("remote base url is required")

// TokenSource supplies the bearer token attached to every request. The
// host app owns credential refresh and 401 handling; this client only
// carries the opaque token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Client is the thin HTTP transport to the remote service. It attaches
// auth and idempotency headers; failure classification and retry policy
// live in the outbox.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds the remote transport for the given service base URL.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL:    trimmed,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// ListResult carries a conditional list fetch outcome. When NotModified
// is set the body was skipped and Items is nil; the caller serves its
// cache and keeps its stored ETag.
type ListResult struct {
	Items       []json.RawMessage
	ETag        string
	NotModified bool
}

// List fetches a resource collection, sending the last-known ETag as an
// If-None-Match precondition when present.
func (c *Client) List(ctx context.Context, entity enums.EntityType, query url.Values, etag string) (ListResult, error) {
	endpoint := c.endpoint(entity, "")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ListResult{}, err
	}
	if etag != "" {
		req.Header.Set(headerIfNoneMatch, etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ListResult{}, pkgerrors.Wrap(pkgerrors.CodeRemote, err, "list "+string(entity))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return ListResult{ETag: etag, NotModified: true}, nil
	}
	if err := checkStatus(resp, "list "+string(entity)); err != nil {
		return ListResult{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ListResult{}, pkgerrors.Wrap(pkgerrors.CodeRemote, err, "reading list body")
	}
	items, err := decodeCollection(body, entity)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, ETag: resp.Header.Get(headerETag)}, nil
}

// Get fetches a single entity. A 404 maps to a not-found error so the
// caller can return nil instead of surfacing a failure.
func (c *Client) Get(ctx context.Context, entity enums.EntityType, id string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(entity, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRemote, err, "get "+string(entity))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s %s not found", entity, id))
	}
	if err := checkStatus(resp, "get "+string(entity)); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// Create submits a new entity with the given idempotency key. Repeated
// deliveries bearing the same key are deduplicated server-side.
func (c *Client) Create(ctx context.Context, entity enums.EntityType, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	return c.write(ctx, http.MethodPost, c.endpoint(entity, ""), payload, idempotencyKey, "create "+string(entity))
}

// Update replaces entity fields with the payload's contents.
func (c *Client) Update(ctx context.Context, entity enums.EntityType, id string, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	return c.write(ctx, http.MethodPut, c.endpoint(entity, id), payload, idempotencyKey, "update "+string(entity))
}

// Delete removes an entity remotely.
func (c *Client) Delete(ctx context.Context, entity enums.EntityType, id string, idempotencyKey string) error {
	_, err := c.write(ctx, http.MethodDelete, c.endpoint(entity, id), nil, idempotencyKey, "delete "+string(entity))
	return err
}

func (c *Client) write(ctx context.Context, method, endpoint string, payload json.RawMessage, idempotencyKey, action string) (json.RawMessage, error) {
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotency, idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRemote, err, action)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, action); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRemote, err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeRemote, err, "resolving token")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) endpoint(entity enums.EntityType, id string) string {
	endpoint := c.baseURL + apiPrefix + "/" + string(entity)
	if id != "" {
		endpoint += "/" + url.PathEscape(id)
	}
	return endpoint
}

func checkStatus(resp *http.Response, action string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	msg := fmt.Sprintf("%s: status %d", action, resp.StatusCode)
	if len(snippet) > 0 {
		msg += ": " + strings.TrimSpace(string(snippet))
	}
	if resp.StatusCode == http.StatusConflict {
		return pkgerrors.New(pkgerrors.CodeConflict, msg)
	}
	return pkgerrors.New(pkgerrors.CodeRemote, msg)
}

// decodeCollection accepts both response shapes the service is known to
// produce: a bare JSON array, or an envelope with the list under a
// named key (preferring the resource's own name).
func decodeCollection(body []byte, entity enums.EntityType) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeRemote, err, "decoding list body")
		}
		return items, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRemote, err, "decoding list envelope")
	}

	candidates := []string{string(entity), "data", "items"}
	for _, key := range candidates {
		if raw, ok := envelope[key]; ok {
			if items, ok := asArray(raw); ok {
				return items, nil
			}
		}
	}

	// Fall back to the first array-valued key, in stable order.
	keys := make([]string, 0, len(envelope))
	for key := range envelope {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if items, ok := asArray(envelope[key]); ok {
			return items, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeRemote, "list envelope contains no array")
}

func asArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false
	}
	return items, true
}
