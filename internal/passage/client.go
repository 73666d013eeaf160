package passage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// ErrUpstream reports a lookup service failure other than not-found.
var ErrUpstream = errors.New("passage service unavailable")

// Observer receives cache outcomes.
type Observer interface {
	PassageLookup(hit bool)
}

// Client resolves references against the scripture HTTP service. Results
// are cached by canonical reference and concurrent misses for the same
// reference share one request.
type Client struct {
	baseURL  string
	http     *http.Client
	cache    Cache
	observer Observer
	logger   *zap.Logger
	flight   singleflight.Group
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Cache      Cache
	Observer   Observer
	Logger     *zap.Logger
	HTTPClient *http.Client
}

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     opts.HTTPClient,
		cache:    opts.Cache,
		observer: opts.Observer,
		logger:   opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: opts.Timeout}
	}
	if c.cache == nil {
		c.cache = NewLRUCache(512, time.Hour)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

var _ interfaces.PassageProvider = (*Client)(nil)

// response is the lookup service's payload.
type response struct {
	Reference string        `json:"reference"`
	Verses    []types.Verse `json:"verses"`
}

func (c *Client) Lookup(ctx context.Context, reference string) (types.Passage, error) {
	ref, err := ParseReference(reference)
	if err != nil {
		return types.Passage{}, err
	}
	key := ref.String()

	if p, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("passage cache read failed", zap.String("reference", key), zap.Error(err))
	} else if ok {
		c.observe(true)
		return clone(p), nil
	}
	c.observe(false)

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		p, err := c.fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(ctx, key, p); err != nil {
			c.logger.Warn("passage cache write failed", zap.String("reference", key), zap.Error(err))
		}
		return p, nil
	})
	if err != nil {
		return types.Passage{}, err
	}
	return clone(v.(types.Passage)), nil
}

func (c *Client) fetch(ctx context.Context, ref Reference) (types.Passage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ref.Path(), nil)
	if err != nil {
		return types.Passage{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.Passage{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.Passage{}, fmt.Errorf("%w: %s", interfaces.ErrPassageNotFound, ref)
	case resp.StatusCode != http.StatusOK:
		return types.Passage{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return types.Passage{}, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	if len(body.Verses) == 0 {
		return types.Passage{}, fmt.Errorf("%w: %s", interfaces.ErrPassageNotFound, ref)
	}

	return types.Passage{Reference: ref.String(), Verses: body.Verses}, nil
}

func (c *Client) observe(hit bool) {
	if c.observer != nil {
		c.observer.PassageLookup(hit)
	}
}

func clone(p types.Passage) types.Passage {
	p.Verses = append([]types.Verse(nil), p.Verses...)
	return p
}
