package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pocket_archiver/internal/domain"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 5 << 20
	defaultUserAgent    = "PocketExporter/1.2"
)

type Config struct {
	Timeout           time.Duration
	MaxBodyBytes      int64
	UserAgent         string
	RequestsPerSecond float64
}

// Extractor downloads an item's page once and reduces it to article text.
// Every problem is reported in the returned result; Extract never fails.
type Extractor struct {
	client    *http.Client
	reducer   Reducer
	limiter   *rate.Limiter
	maxBody   int64
	userAgent string
	logger    *slog.Logger
}

func New(cfg Config, reducer Reducer, logger *slog.Logger) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	e := &Extractor{
		client:    &http.Client{Timeout: cfg.Timeout},
		reducer:   reducer,
		maxBody:   cfg.MaxBodyBytes,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return e
}

func (e *Extractor) Extract(ctx context.Context, item domain.Item) domain.ExtractionResult {
	raw := item.SourceURL()
	if raw == "" {
		return domain.Failed("no URL")
	}
	pageURL, err := url.Parse(raw)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return domain.Failed("invalid URL")
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return domain.Failed(err.Error())
		}
	}

	body, err := e.download(ctx, pageURL)
	if err != nil {
		e.logger.Debug("download failed", "item_id", item.ID, "url", raw, "error", err)
		return domain.Failed(err.Error())
	}

	article, err := e.reducer.Reduce(body, pageURL)
	if err != nil {
		return domain.Failed(err.Error())
	}
	if strings.TrimSpace(article.Text) == "" {
		return domain.Failed("no article content found")
	}

	title := article.Title
	if title == "" {
		title = item.Title
	}
	return domain.Succeeded(title, article.HTML, article.Text)
}

func (e *Extractor) download(ctx context.Context, pageURL *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.Contains(mediaType, "html") {
			return nil, fmt.Errorf("not an HTML page: %s", ct)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
