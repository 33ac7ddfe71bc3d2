package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/internal/metrics"
	"github.com/d60-Lab/tagstream/pkg/breaker"
)

// HTTPClient REST 客户端：api_key 参数 + HS256 feed token
type HTTPClient struct {
	baseURL string
	key     string
	secret  []byte
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
}

func NewHTTPClient(cfg config.FeedConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("feed base url is required")
	}
	if cfg.Key == "" || cfg.Secret == "" {
		return nil, errors.New("feed key and secret are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.Key,
		secret:  []byte(cfg.Secret),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker.New("feed", cfg.Breaker),
	}, nil
}

func (c *HTTPClient) Feed(kind, id string) Feed {
	return &httpFeed{c: c, kind: kind, id: id}
}

// APIError 服务端返回的非 2xx
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feed provider returned %d: %s", e.Status, e.Body)
}

// token feed 级别的 JWT
func (c *HTTPClient) token(feedID string) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"resource": "feed",
		"action":   "*",
		"feed_id":  feedID,
	})
	return t.SignedString(c.secret)
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, feedID string, query url.Values, in, out any) error {
	start := time.Now()
	err := c.doOnce(ctx, method, path, feedID, query, in, out)
	metrics.RecordFeedRequest(op, time.Since(start), err)
	return err
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path, feedID string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.key)

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	token, err := c.token(feedID)
	if err != nil {
		return fmt.Errorf("sign feed token: %w", err)
	}

	_, err = c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", token)
		req.Header.Set("Stream-Auth-Type", "jwt")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

type httpFeed struct {
	c    *HTTPClient
	kind string
	id   string
}

func (f *httpFeed) ID() string { return f.kind + ":" + f.id }

func (f *httpFeed) path() string {
	return "/feed/" + url.PathEscape(f.kind) + "/" + url.PathEscape(f.id) + "/"
}

func (f *httpFeed) AddActivity(ctx context.Context, a Activity) (*Activity, error) {
	var out Activity
	if err := f.c.do(ctx, "add_activity", http.MethodPost, f.path(), f.kind+f.id, nil, a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *httpFeed) Follow(ctx context.Context, kind, id string) error {
	body := map[string]string{"target": kind + ":" + id}
	return f.c.do(ctx, "follow", http.MethodPost, f.path()+"follows/", f.kind+f.id, nil, body, nil)
}

func (f *httpFeed) Unfollow(ctx context.Context, kind, id string) error {
	target := url.PathEscape(kind + ":" + id)
	return f.c.do(ctx, "unfollow", http.MethodDelete, f.path()+"follows/"+target+"/", f.kind+f.id, nil, nil, nil)
}

func (f *httpFeed) Get(ctx context.Context, opts GetOptions) (*Page, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.IDLt != "" {
		q.Set("id_lt", opts.IDLt)
	}

	var raw struct {
		Results json.RawMessage `json:"results"`
		Next    string          `json:"next"`
	}
	if err := f.c.do(ctx, "get", http.MethodGet, f.path(), f.kind+f.id, q, nil, &raw); err != nil {
		return nil, err
	}

	page := &Page{Next: raw.Next}
	if len(raw.Results) == 0 {
		return page, nil
	}
	var err error
	if IsAggregated(f.kind) {
		err = json.Unmarshal(raw.Results, &page.Groups)
	} else {
		err = json.Unmarshal(raw.Results, &page.Activities)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s results: %w", f.kind, err)
	}
	return page, nil
}
