package upstream

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
)

const DefaultCartoURL = "https://{user}.carto.com/api/v2/sql"

// maxGETQuery is the longest encoded query string sent as GET. Longer
// statements, such as repairs of large user geometries, are form-posted.
const maxGETQuery = 4096

// CartoSource runs queries through the Carto SQL API. Placeholders are
// rendered client side because the API takes a single SQL string.
type CartoSource struct {
	logger      *slog.Logger
	client      *http.Client
	urlTemplate string
	user        string
	apiKey      string
}

func NewCarto(logger *slog.Logger, client *http.Client, urlTemplate, user, apiKey string) (*CartoSource, error) {
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("carto user is required")
	}
	if urlTemplate == "" {
		urlTemplate = DefaultCartoURL
	}
	if _, err := url.Parse(strings.ReplaceAll(urlTemplate, "{user}", user)); err != nil {
		return nil, fmt.Errorf("parse carto url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CartoSource{logger: logger, client: client, urlTemplate: urlTemplate, user: user, apiKey: apiKey}, nil
}

func (c *CartoSource) Name() string { return "carto" }

type cartoResponse struct {
	Rows  []map[string]any `json:"rows"`
	Error []string         `json:"error"`
}

func (c *CartoSource) Query(ctx context.Context, q Query) ([]Row, error) {
	stmt, err := Render(q.SQL, q.Args)
	if err != nil {
		return nil, permanent(err)
	}
	user := c.user
	if q.Account != "" {
		user = q.Account
	}
	u, err := url.Parse(strings.ReplaceAll(c.urlTemplate, "{user}", url.PathEscape(user)))
	if err != nil {
		return nil, permanent(fmt.Errorf("carto url: %w", err))
	}
	params := url.Values{}
	params.Set("q", stmt)
	if c.apiKey != "" && user == c.user {
		params.Set("api_key", c.apiKey)
	}
	encoded := params.Encode()

	var req *http.Request
	if len(encoded) <= maxGETQuery {
		u.RawQuery = encoded
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(encoded))
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	c.logger.DebugContext(ctx, "carto query", "query", q.Name, "user", user, "method", req.Method)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var out cartoResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	decErr := dec.Decode(&out)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("carto status %d: %s", resp.StatusCode, snippet(body))
	case resp.StatusCode >= 400:
		msg := strings.Join(out.Error, "; ")
		if msg == "" {
			msg = snippet(body)
		}
		if strings.Contains(msg, "does not exist") {
			return nil, permanent(errs.NotFound("%s: %s", q.Name, msg))
		}
		return nil, permanent(fmt.Errorf("carto status %d: %s", resp.StatusCode, msg))
	}
	if decErr != nil {
		return nil, fmt.Errorf("decode carto response: %w", decErr)
	}

	rows := make([]Row, len(out.Rows))
	for i, r := range out.Rows {
		rows[i] = Row(r)
	}
	return rows, nil
}

func snippet(b []byte) string {
	if len(b) > 512 {
		b = b[:512]
	}
	return string(b)
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// Render substitutes $n placeholders with SQL literals.
func Render(sql string, args []any) (string, error) {
	var rerr error
	out := placeholder.ReplaceAllStringFunc(sql, func(m string) string {
		n, _ := strconv.Atoi(m[1:])
		if n < 1 || n > len(args) {
			rerr = fmt.Errorf("placeholder %s has no argument", m)
			return m
		}
		lit, err := literal(args[n-1])
		if err != nil {
			rerr = err
			return m
		}
		return lit
	})
	return out, rerr
}

func literal(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return pq.QuoteLiteral(t), nil
	case []byte:
		return pq.QuoteLiteral(string(t)), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil {
			return "", fmt.Errorf("render argument: %w", err)
		}
		return literal(dv)
	default:
		return "", fmt.Errorf("cannot render argument of type %T", v)
	}
}
