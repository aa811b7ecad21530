// Package lookup fetches transaction details from the Cosmos LCD with a bounded retry
// policy. A transaction the indexer has not caught up with yet answers 404, which is the
// only error retried.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"golang.org/x/time/rate"
	"lecca.io/axelar-watchtower/internal/logger"
)

var ErrNotIndexed = errors.New("transaction not indexed yet")

const (
	refundType = "/axelar.reward.v1beta1.RefundMsgRequest"
	batchType  = "/axelar.auxiliary.v1beta1.BatchRequest"

	// freecache rejects entries above 1/1024 of its size, so this admits
	// decoded details up to about 32 KiB.
	cacheSizeBytes = 32 * 1024 * 1024
)

type Options struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	CacheTTL  time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	cache   *freecache.Cache
	opts    Options
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: opts.Timeout},
		cache:   freecache.NewCache(cacheSizeBytes),
		opts:    opts,
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// Message is one transaction message with wrappers removed.
type Message struct {
	Type string
	Body json.RawMessage
}

// TxDetail is the part of a transaction response the trackers inspect.
type TxDetail struct {
	Hash     string
	Height   int64
	Messages []Message
	Events   []Event
}

type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Result is the outcome of a bounded fetch. Detail is nil when the attempts were exhausted.
type Result struct {
	Detail   *TxDetail
	Attempts int
	Err      error
}

func (r Result) Resolved() bool { return r.Detail != nil }

// Resolve fetches hash, retrying only ErrNotIndexed up to the configured retry count
// with a fixed delay. It never panics and never returns an error; callers inspect Result.
func (c *Client) Resolve(ctx context.Context, hash string) Result {
	var res Result
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		res.Attempts = attempt + 1
		detail, err := c.FetchTx(ctx, hash)
		if err == nil {
			res.Detail = detail
			res.Err = nil
			return res
		}
		res.Err = err
		if !errors.Is(err, ErrNotIndexed) || attempt == c.opts.Retries {
			break
		}
		logger.Debug("LOOKUP", "tx %s not indexed yet, retry %d/%d in %v", shortHash(hash), attempt+1, c.opts.Retries, c.opts.RetryDelay)
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		case <-time.After(c.opts.RetryDelay):
		}
	}
	logger.Warn("LOOKUP", "giving up on tx %s after %d attempt(s): %v", shortHash(hash), res.Attempts, res.Err)
	return res
}

type txResponse struct {
	Tx struct {
		Body struct {
			Messages []json.RawMessage `json:"messages"`
		} `json:"body"`
	} `json:"tx"`
	TxResponse struct {
		Height string  `json:"height"`
		TxHash string  `json:"txhash"`
		Events []Event `json:"events"`
	} `json:"tx_response"`
}

// FetchTx performs a single lookup, served from the cache when possible.
func (c *Client) FetchTx(ctx context.Context, hash string) (*TxDetail, error) {
	hash = strings.ToUpper(strings.TrimPrefix(hash, "0x"))
	if cached, err := c.cache.Get([]byte(hash)); err == nil {
		var d TxDetail
		if err := json.Unmarshal(cached, &d); err == nil {
			return &d, nil
		}
		c.cache.Del([]byte(hash))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cosmos/tx/v1beta1/txs/"+hash, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tx %s: %w", shortHash(hash), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read tx %s: %w", shortHash(hash), err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotIndexed
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("fetch tx %s: status %d", shortHash(hash), resp.StatusCode)
	}

	detail, err := decodeTx(body)
	if err != nil {
		return nil, err
	}
	c.store(hash, detail)
	return detail, nil
}

// store caches the decoded detail rather than the raw response, which carries
// signatures and logs the trackers never read.
func (c *Client) store(hash string, detail *TxDetail) {
	compact, err := json.Marshal(detail)
	if err != nil {
		logger.Warn("LOOKUP", "cannot encode tx %s for cache: %v", shortHash(hash), err)
		return
	}
	if err := c.cache.Set([]byte(hash), compact, int(c.opts.CacheTTL.Seconds())); err != nil {
		logger.Warn("LOOKUP", "tx %s not cached (%d bytes): %v", shortHash(hash), len(compact), err)
	}
}

func decodeTx(body []byte) (*TxDetail, error) {
	var r txResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	d := &TxDetail{Hash: r.TxResponse.TxHash, Events: r.TxResponse.Events}
	d.Height, _ = strconv.ParseInt(r.TxResponse.Height, 10, 64)
	for _, raw := range r.Tx.Body.Messages {
		d.Messages = append(d.Messages, flatten(raw)...)
	}
	return d, nil
}

type envelope struct {
	Type         string            `json:"@type"`
	InnerMessage json.RawMessage   `json:"inner_message"`
	Messages     []json.RawMessage `json:"messages"`
}

// flatten unwraps refund and batch wrappers, which may nest.
func flatten(raw json.RawMessage) []Message {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	switch env.Type {
	case refundType:
		if len(env.InnerMessage) == 0 {
			return nil
		}
		return flatten(env.InnerMessage)
	case batchType:
		var out []Message
		for _, m := range env.Messages {
			out = append(out, flatten(m)...)
		}
		return out
	}
	return []Message{{Type: env.Type, Body: raw}}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
