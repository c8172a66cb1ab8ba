package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/markduk/portalmover/internal/query"
	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/schema"
)

const lookupLogicalNameAnnotation = "@Microsoft.Dynamics.CRM.lookuplogicalname"

// WebAPI is a Client for an OData v4 Web API endpoint such as
// https://org.example.com/api/data/v9.2.
type WebAPI struct {
	base     string
	catalog  *schema.Catalog
	http     *http.Client
	token    string
	pageSize int
	logger   *slog.Logger
}

// WebAPIOption configures a WebAPI client.
type WebAPIOption func(*WebAPI)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) WebAPIOption {
	return func(w *WebAPI) { w.http = c }
}

// WithBearerToken sets the Authorization header on every request.
func WithBearerToken(token string) WebAPIOption {
	return func(w *WebAPI) { w.token = token }
}

// WithPageSize sets odata.maxpagesize for queries.
func WithPageSize(n int) WebAPIOption {
	return func(w *WebAPI) { w.pageSize = n }
}

// WithWebAPILogger sets the logger.
func WithWebAPILogger(l *slog.Logger) WebAPIOption {
	return func(w *WebAPI) { w.logger = l }
}

// NewHTTPClient returns an HTTP client tuned for many small requests to
// one host.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// NewWebAPI creates a client. The catalog supplies entity set names and
// tells lookups apart from plain identifier columns.
func NewWebAPI(baseURL string, catalog *schema.Catalog, opts ...WebAPIOption) (*WebAPI, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid web api url %q", baseURL)
	}
	w := &WebAPI{
		base:     strings.TrimRight(baseURL, "/"),
		catalog:  catalog,
		http:     NewHTTPClient(),
		pageSize: 500,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *WebAPI) recordURL(id record.Identity) string {
	return fmt.Sprintf("%s/%s(%s)", w.base, w.catalog.EntitySet(id.Entity), id.ID)
}

// Upsert implements Client with PATCH on the record URL. The store answers
// 201 when it created the record and 200 when it updated one.
func (w *WebAPI) Upsert(ctx context.Context, rec record.Record) (bool, error) {
	body, err := w.encode(rec)
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", rec.Identity(), err)
	}
	resp, err := w.do(ctx, http.MethodPatch, w.recordURL(rec.Identity()), body, map[string]string{
		"Prefer": "return=representation",
	})
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", rec.Identity(), err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "upsert"); err != nil {
		return false, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusCreated, nil
}

// Update implements Client. If-Match: * stops the PATCH from creating a
// missing record.
func (w *WebAPI) Update(ctx context.Context, rec record.Record) error {
	body, err := w.encode(rec)
	if err != nil {
		return fmt.Errorf("update %s: %w", rec.Identity(), err)
	}
	resp, err := w.do(ctx, http.MethodPatch, w.recordURL(rec.Identity()), body, map[string]string{
		"If-Match": "*",
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", rec.Identity(), err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "update")
}

// Associate implements Client by POSTing a $ref to the relationship
// collection of the first record.
func (w *WebAPI) Associate(ctx context.Context, a Association) error {
	target := fmt.Sprintf("%s/%s/$ref", w.recordURL(a.From), a.Relationship)
	body, err := json.Marshal(map[string]string{"@odata.id": w.recordURL(a.To)})
	if err != nil {
		return err
	}
	resp, err := w.do(ctx, http.MethodPost, target, body, nil)
	if err != nil {
		return fmt.Errorf("associate %s: %w", a, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "associate")
}

// Query implements Client, following @odata.nextLink until exhausted.
func (w *WebAPI) Query(ctx context.Context, q query.Query) ([]record.Record, error) {
	opts, err := query.CompileOData(q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Entity, err)
	}
	next := fmt.Sprintf("%s/%s", w.base, w.catalog.EntitySet(q.Entity))
	if enc := opts.Encode(); enc != "" {
		next += "?" + enc
	}

	var out []record.Record
	for page := 1; next != ""; page++ {
		resp, err := w.do(ctx, http.MethodGet, next, nil, map[string]string{
			"Prefer": fmt.Sprintf("odata.maxpagesize=%d", w.pageSize),
		})
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.Entity, err)
		}
		recs, link, err := w.decodePage(resp, q.Entity)
		if err != nil {
			return nil, fmt.Errorf("query %s page %d: %w", q.Entity, page, err)
		}
		w.logger.Debug("query page", "entity", q.Entity, "page", page, "records", len(recs))
		out = append(out, recs...)
		next = link
	}
	return out, nil
}

func (w *WebAPI) decodePage(resp *http.Response, entity string) ([]record.Record, string, error) {
	defer resp.Body.Close()
	if err := checkStatus(resp, "query"); err != nil {
		return nil, "", err
	}
	var page struct {
		Value    []map[string]any `json:"value"`
		NextLink string           `json:"@odata.nextLink"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&page); err != nil {
		return nil, "", fmt.Errorf("decode response: %w", err)
	}

	out := make([]record.Record, 0, len(page.Value))
	for i, row := range page.Value {
		rec, err := w.decodeRow(entity, row)
		if err != nil {
			return nil, "", fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, page.NextLink, nil
}

func (w *WebAPI) decodeRow(entity string, row map[string]any) (record.Record, error) {
	pk := w.catalog.PrimaryID(entity)
	rawID, _ := row[pk].(string)
	rec, err := record.New(entity, rawID)
	if err != nil {
		return record.Record{}, err
	}
	ent, _ := w.catalog.Entity(entity)

	for key, raw := range row {
		if key == pk || strings.Contains(key, "@") {
			continue
		}
		if strings.HasPrefix(key, "_") && strings.HasSuffix(key, "_value") {
			name := strings.TrimSuffix(strings.TrimPrefix(key, "_"), "_value")
			v, err := w.decodeLookup(entity, name, raw, row[key+lookupLogicalNameAnnotation])
			if err != nil {
				return record.Record{}, fmt.Errorf("%s: %w", name, err)
			}
			rec.Attributes[name] = v
			continue
		}

		var typ schema.AttributeType
		if ent != nil {
			if a, ok := ent.Attribute(key); ok {
				typ = a.Type
			}
		}
		v, err := decodeColumn(typ, raw)
		if err != nil {
			return record.Record{}, fmt.Errorf("%s: %w", key, err)
		}
		rec.Attributes[key] = v
	}
	return rec, nil
}

func (w *WebAPI) decodeLookup(entity, attr string, raw, logicalName any) (record.Value, error) {
	if raw == nil {
		return record.Null{}, nil
	}
	id, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("lookup value must be a string, got %T", raw)
	}
	target, _ := logicalName.(string)
	if target == "" {
		if targets, ok := w.catalog.LookupTargets(entity, attr); ok && len(targets) > 0 {
			target = targets[0]
		}
	}
	if target == "" {
		return record.NewID(id)
	}
	return record.NewRef(target, id)
}

func decodeColumn(typ schema.AttributeType, raw any) (record.Value, error) {
	if raw == nil {
		return record.Null{}, nil
	}
	switch typ {
	case schema.TypeUniqueIdentifier:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("identifier must be a string, got %T", raw)
		}
		return record.NewID(s)
	case schema.TypePicklist, schema.TypeState, schema.TypeStatus:
		v, err := record.DecodeValue(raw)
		if err != nil {
			return nil, err
		}
		n, ok := v.(record.Int)
		if !ok {
			return nil, fmt.Errorf("option value must be an integer, got %s", v.Kind())
		}
		return record.OptionSet(n), nil
	default:
		return record.DecodeValue(raw)
	}
}

// encode renders a record as a Web API request body. Typed references and
// identifiers on lookup columns become @odata.bind navigation links.
func (w *WebAPI) encode(rec record.Record) ([]byte, error) {
	body := make(map[string]any, len(rec.Attributes))
	pk := w.catalog.PrimaryID(rec.Entity)
	for _, name := range rec.SortedKeys() {
		if name == pk {
			continue
		}
		switch v := rec.Attributes[name].(type) {
		case record.Null:
			body[name] = nil
		case record.String:
			body[name] = string(v)
		case record.Int:
			body[name] = int64(v)
		case record.Bool:
			body[name] = bool(v)
		case record.OptionSet:
			body[name] = int64(v)
		case record.Ref:
			body[name+"@odata.bind"] = fmt.Sprintf("/%s(%s)", w.catalog.EntitySet(v.Entity), v.ID)
		case record.ID:
			if targets, ok := w.catalog.LookupTargets(rec.Entity, name); ok && len(targets) > 0 {
				body[name+"@odata.bind"] = fmt.Sprintf("/%s(%s)", w.catalog.EntitySet(targets[0]), string(v))
			} else {
				body[name] = string(v)
			}
		default:
			return nil, fmt.Errorf("attribute %q: unsupported value type %T", name, v)
		}
	}
	return json.Marshal(body)
}

func (w *WebAPI) do(ctx context.Context, method, target string, body []byte, headers map[string]string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return w.http.Do(req)
}

// checkStatus converts a non-2xx response into a FaultError, reading the
// OData error body when there is one.
func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	fault := &FaultError{Op: op, Code: FaultGeneric, Status: resp.StatusCode, Message: resp.Status}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err == nil {
		if code, ok := ParseFaultCode(body.Error.Code); ok {
			fault.Code = code
		}
		if body.Error.Message != "" {
			fault.Message = body.Error.Message
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests && fault.Code == FaultGeneric {
		fault.Code = FaultThrottled
	}
	return fault
}
