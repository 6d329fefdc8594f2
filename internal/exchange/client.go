// Package exchange is the REST client for the upstream klines endpoint.
// It issues requests and reports receipts; retry and backoff policy belongs
// to the fetch worker, which must classify every failure into the manifest.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const klinesPath = "/api/v3/klines"

// DefaultTimeout bounds one upstream request.
const DefaultTimeout = 10 * time.Second

// ErrNoDataFound means the earliest-open probe returned an empty array:
// upstream has no history at all for the dataset.
var ErrNoDataFound = errors.New("exchange: no data found for dataset")

// ErrDecode marks a response that is not JSON or not a top-level array.
// Classified FAILED/EXCEPTION by the worker.
var ErrDecode = errors.New("exchange: undecodable response")

// HTTPError is a non-200 upstream status. Classified FAILED/HTTP_ERROR.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// KlinesRequest addresses one lattice cell (or a probe).
type KlinesRequest struct {
	Symbol   string
	Interval string
	Limit    int
	StartMS  *int64
	EndMS    *int64
}

// KlinesResult is the receipt for one request. URL and HTTPStatus are
// populated even when the call fails so the worker can record them in the
// manifest delta.
type KlinesResult struct {
	Rows       []json.RawMessage
	HTTPStatus int
	URL        string
}

// Client talks to one venue base URL.
type Client struct {
	rc *resty.Client
}

// New builds a client with the per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{rc: rc}
}

func (r KlinesRequest) query() url.Values {
	q := url.Values{}
	q.Set("symbol", r.Symbol)
	q.Set("interval", r.Interval)
	q.Set("limit", strconv.Itoa(r.Limit))
	if r.StartMS != nil {
		q.Set("startTime", strconv.FormatInt(*r.StartMS, 10))
	}
	if r.EndMS != nil {
		q.Set("endTime", strconv.FormatInt(*r.EndMS, 10))
	}
	return q
}

// Klines issues one GET against the klines endpoint.
func (c *Client) Klines(ctx context.Context, req KlinesRequest) (KlinesResult, error) {
	q := req.query()
	res := KlinesResult{
		URL: c.rc.BaseURL + klinesPath + "?" + q.Encode(),
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParamsFromValues(q).
		Get(klinesPath)
	if err != nil {
		return res, fmt.Errorf("klines request: %w", err)
	}
	res.HTTPStatus = resp.StatusCode()
	if resp.StatusCode() != 200 {
		return res, &HTTPError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return res, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	res.Rows = rows
	return res, nil
}
