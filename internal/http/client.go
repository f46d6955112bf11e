package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/broadinstitute/terra-tools/internal/retry"
)

// DefaultBaseURL is the orchestration API root.
const DefaultBaseURL = "https://api.firecloud.org/api/"

// Scopes are the OAuth scopes requested for API access tokens.
var Scopes = []string{
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/userinfo.email",
}

// Options configures the HTTP client.
type Options struct {
	// BaseURL is the API root. Default: DefaultBaseURL
	BaseURL string

	// TokenSource supplies bearer tokens. Requests are unauthenticated when nil.
	TokenSource oauth2.TokenSource

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout for individual requests.
	// Default: 5m
	Timeout time.Duration

	// Retry is the retry schedule applied to every call.
	// Default: retry.FixedChain()
	Retry retry.Policy

	// Logger receives retry messages.
	Logger zerolog.Logger

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL:             DefaultBaseURL,
		MaxIdleConnsPerHost: 16,
		Timeout:             5 * time.Minute,
		Retry:               retry.FixedChain(),
		Logger:              zerolog.Nop(),
		UserAgent:           "terrabulk",
	}
}

// Workspace identifies a workspace by billing project and name.
type Workspace struct {
	Project string
	Name    string
}

func (w Workspace) String() string {
	return w.Project + "/" + w.Name
}

func (w Workspace) path(parts ...string) string {
	segs := []string{"workspaces", url.PathEscape(w.Project), url.PathEscape(w.Name)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/")
}

// Response is a fully read API response.
type Response struct {
	Status int
	Body   []byte
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int {
	return r.Status
}

// Bytes returns the raw body.
func (r *Response) Bytes() []byte {
	return r.Body
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// Client is a workspace data API client. Every call goes through the retry
// schedule configured in Options.
type Client struct {
	client *http.Client
	base   *url.URL
	opts   Options
	log    zerolog.Logger
}

// NewClient creates a new client with the given options.
func NewClient(opts Options) (*Client, error) {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = def.Retry
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if opts.TokenSource != nil {
		transport = &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, opts.TokenSource),
			Base:   transport,
		}
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		base: base,
		opts: opts,
		log:  opts.Logger,
	}, nil
}

// Operation is one attempt of a remote call.
type Operation = retry.Operation[*Response]

// Call runs op under the retry schedule, accepting only successCode, and
// decodes the JSON body into v. v may be nil.
func (c *Client) Call(ctx context.Context, name string, successCode int, op Operation, v any) error {
	resp, err := retry.Do(ctx, c.opts.Retry, c.log, name, retry.StatusIn(successCode), op)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return resp.Decode(v)
}

// CallRaw runs op under the retry schedule, accepting successCode and any
// of specialCodes, and returns the undecoded response. Callers inspect the
// status themselves; use Call when only successCode is acceptable.
func (c *Client) CallRaw(ctx context.Context, name string, successCode int, op Operation, specialCodes ...int) (*Response, error) {
	codes := append([]int{successCode}, specialCodes...)
	return retry.Do(ctx, c.opts.Retry, c.log, name, retry.StatusIn(codes...), op)
}

// request builds an operation performing a single HTTP request.
func (c *Client) request(method, path string, query url.Values, contentType string, body []byte) Operation {
	return func(ctx context.Context) (*Response, error) {
		ref, err := url.Parse(path)
		if err != nil {
			return nil, errors.Wrap(err, "parse path")
		}
		ref.RawQuery = query.Encode()
		u := c.base.ResolveReference(ref)

		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
		if err != nil {
			return nil, errors.Wrap(err, "create request")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.opts.UserAgent)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "read response")
		}
		return &Response{Status: resp.StatusCode, Body: data}, nil
	}
}

// EntityType describes one table of a workspace data model.
type EntityType struct {
	Name           string
	Count          int
	IDName         string
	AttributeNames []string
}

// ListEntityTypes describes every entity type in the workspace.
func (c *Client) ListEntityTypes(ctx context.Context, ws Workspace) (map[string]EntityType, error) {
	op := c.request(http.MethodGet, ws.path("entities"), nil, "", nil)
	var types entityTypes
	if err := c.Call(ctx, "list entity types", http.StatusOK, op, &types); err != nil {
		return nil, err
	}
	return types, nil
}

// entityTypes decodes a describe-entity-types body with ParseEntityTypes.
type entityTypes map[string]EntityType

func (t *entityTypes) UnmarshalJSON(data []byte) error {
	types, err := ParseEntityTypes(data)
	if err != nil {
		return err
	}
	*t = types
	return nil
}

// ParseEntityTypes decodes a describe-entity-types response body.
func ParseEntityTypes(body []byte) (map[string]EntityType, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("decode entity types: invalid json")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, errors.New("decode entity types: expected object")
	}

	types := make(map[string]EntityType)
	root.ForEach(func(key, value gjson.Result) bool {
		et := EntityType{
			Name:   key.String(),
			Count:  int(value.Get("count").Int()),
			IDName: value.Get("idName").String(),
		}
		for _, a := range value.Get("attributeNames").Array() {
			et.AttributeNames = append(et.AttributeNames, a.String())
		}
		types[et.Name] = et
		return true
	})
	return types, nil
}

// SortDirection orders entity query results by entity name.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Query selects one page of entities.
type Query struct {
	Page          int // 1-based
	PageSize      int
	SortDirection SortDirection // Default: SortAsc
	FilterTerms   string
}

func (q Query) values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("pageSize", strconv.Itoa(q.PageSize))
	dir := q.SortDirection
	if dir == "" {
		dir = SortAsc
	}
	v.Set("sortDirection", string(dir))
	if q.FilterTerms != "" {
		v.Set("filterTerms", q.FilterTerms)
	}
	return v
}

// Entity is one record of an entity type. Attributes is sparse: an absent
// key means the attribute is unset.
type Entity struct {
	Name       string
	Attributes map[string]string
}

// QueryEntities fetches one page of entities of the given type.
func (c *Client) QueryEntities(ctx context.Context, ws Workspace, entityType string, q Query) ([]Entity, error) {
	op := c.request(http.MethodGet, ws.path("entityQuery", entityType), q.values(), "", nil)
	name := "query " + entityType + " page " + strconv.Itoa(q.Page)
	var page entityPage
	if err := c.Call(ctx, name, http.StatusOK, op, &page); err != nil {
		return nil, err
	}
	return page, nil
}

// entityPage decodes an entity query body with ParseEntities.
type entityPage []Entity

func (p *entityPage) UnmarshalJSON(data []byte) error {
	entities, err := ParseEntities(data)
	if err != nil {
		return err
	}
	*p = entities
	return nil
}

// ParseEntities decodes the results of an entity query response body.
func ParseEntities(body []byte) ([]Entity, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("decode entities: invalid json")
	}
	results := gjson.GetBytes(body, "results")
	if !results.IsArray() {
		return nil, errors.New("decode entities: missing results")
	}

	entities := make([]Entity, 0, len(results.Array()))
	results.ForEach(func(_, r gjson.Result) bool {
		e := Entity{
			Name:       r.Get("name").String(),
			Attributes: make(map[string]string),
		}
		r.Get("attributes").ForEach(func(k, v gjson.Result) bool {
			e.Attributes[k.String()] = attributeValue(v)
			return true
		})
		entities = append(entities, e)
		return true
	})
	return entities, nil
}

// attributeValue renders an attribute as a table cell: strings verbatim,
// numbers as their JSON literal, null as empty and lists or references as
// compact JSON.
func attributeValue(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return ""
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	case gjson.Number:
		return v.Raw
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(v.Raw)); err != nil {
			return v.Raw
		}
		return buf.String()
	}
}

// ImportEntities uploads a tab-separated table using the flexible data
// model, which accepts any entity type and attribute names.
func (c *Client) ImportEntities(ctx context.Context, ws Workspace, table []byte) error {
	form := url.Values{}
	form.Set("entities", string(table))
	op := c.request(http.MethodPost, ws.path("flexibleImportEntities"), nil,
		"application/x-www-form-urlencoded", []byte(form.Encode()))
	return c.Call(ctx, "import entities", http.StatusOK, op, nil)
}
