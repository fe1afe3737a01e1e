// Package arxiv is the search gateway: it queries the arXiv Atom API for a
// topic and returns the articles published inside a time window.
package arxiv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"arxivbot/internal/paper"
	logx "arxivbot/pkg/logx"
)

// ErrUnavailable wraps every network or API failure.
var ErrUnavailable = errors.New("arxiv unavailable")

const DefaultBaseURL = "http://export.arxiv.org/api/query"

type Config struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration // per request; 0 means 30s
	MinInterval time.Duration // between requests; 0 means 3s
	Retries     int           // extra attempts on transient failures; 0 disables
}

type Client struct {
	cfg     Config
	log     logx.Logger
	parser  *gofeed.Parser
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "arxivbot/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 3 * time.Second
	}
	cfg.Retries = max(cfg.Retries, 0)
	if log.IsZero() {
		log = logx.Nop()
	}
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: cfg.Timeout}
	p.UserAgent = cfg.UserAgent
	return &Client{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "arxiv")),
		parser:  p,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
	}
}

// Search returns the articles for q published in [since, until), oldest first.
// Zero results is not an error. Failures wrap ErrUnavailable unless ctx ended.
func (c *Client) Search(ctx context.Context, q paper.Query, since, until time.Time) ([]paper.Article, error) {
	if q.MaxResults <= 0 {
		q.MaxResults = 100
	}
	u := queryURL(c.cfg.BaseURL, q)

	var (
		feed *gofeed.Feed
		err  error
	)
	for attempt := 0; ; attempt++ {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return nil, ctxErr(ctx, werr)
		}
		start := time.Now()
		feed, err = c.parser.ParseURLWithContext(u, ctx)
		if err == nil {
			c.log.Debug("search done", logx.String("topic", q.Topic.Name), logx.Int("entries", len(feed.Items)), logx.Duration("took", time.Since(start)))
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= c.cfg.Retries || !transient(err) {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, q.Topic.Name, err)
		}
		c.log.Warn("search failed, retrying", logx.String("topic", q.Topic.Name), logx.Int("attempt", attempt+1), logx.Err(err))
	}

	if msg := apiError(feed); msg != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, q.Topic.Name, msg)
	}

	out := make([]paper.Article, 0, len(feed.Items))
	for _, it := range feed.Items {
		a, ok := toArticle(it)
		if !ok {
			continue
		}
		if a.PublishedAt.Before(since) || !a.PublishedAt.Before(until) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	return out, nil
}

func transient(err error) bool {
	var he gofeed.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	// Network errors and truncated bodies.
	return true
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: rate limiter: %w", ErrUnavailable, err)
}
