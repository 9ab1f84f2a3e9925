package pocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pocket_archiver/internal/domain"
)

const (
	SourceID   = "pocket"
	SourceName = "Pocket"

	// MaxPageSize is the list endpoint's per-page cap. Larger counts are
	// accepted by the service and silently truncated.
	MaxPageSize = 30
)

// Config holds Pocket list endpoint configuration.
type Config struct {
	BaseURL        string
	State          string
	DetailType     string
	Sort           string
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Source fetches pages of the user's saved items.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	state          string
	detailType     string
	sort           string
	userAgent      string
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a new Pocket source.
func New(cfg Config, logger *slog.Logger) *Source {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultAgent
	}
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		state:          cfg.State,
		detailType:     cfg.DetailType,
		sort:           cfg.Sort,
		userAgent:      userAgent,
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("source", SourceID),
	}
}

// ID returns the source identifier.
func (s *Source) ID() string {
	return SourceID
}

// Name returns human-readable name.
func (s *Source) Name() string {
	return SourceName
}

// FetchPage fetches count items starting at offset. The offset parameter is
// omitted on the first page: Pocket mishandles an explicit zero.
func (s *Source) FetchPage(ctx context.Context, cred domain.Credential, offset, count int) (*domain.Page, error) {
	if count <= 0 || count > MaxPageSize {
		if count > MaxPageSize {
			s.logger.Warn("page size exceeds cap, using cap instead",
				"requested", count,
				"cap", MaxPageSize,
			)
		}
		count = MaxPageSize
	}

	form := url.Values{}
	form.Set("consumer_key", cred.ConsumerKey)
	form.Set("access_token", cred.AccessToken)
	form.Set("count", strconv.Itoa(count))
	if offset > 0 {
		form.Set("offset", strconv.Itoa(offset))
	}
	form.Set("state", s.state)
	form.Set("detailType", s.detailType)
	if s.sort != "" {
		form.Set("sort", s.sort)
	}
	form.Set("total", "1")

	resp, err := s.fetchWithRetry(ctx, form, offset)
	if err != nil {
		return nil, err
	}

	items := s.transform(resp.List)
	received := len(items)
	if received > count {
		s.logger.Warn("page larger than requested, truncating",
			"offset", offset,
			"requested", count,
			"received", received,
		)
		items = items[:count]
	}

	s.logger.Debug("fetched page",
		"offset", offset,
		"count", count,
		"items", len(items),
		"total", resp.Total,
	)

	return &domain.Page{
		Offset:  offset,
		Items:   items,
		HasMore: received > 0 && received >= count,
	}, nil
}

func (s *Source) fetchWithRetry(ctx context.Context, form url.Values, offset int) (*APIResponse, error) {
	var (
		resp       APIResponse
		attempts   int
		lastStatus int
	)

	operation := func() error {
		attempts++
		resp = APIResponse{}

		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		status, err := postForm(attemptCtx, s.httpClient, s.baseURL+"/v3/get", s.userAgent, form, &resp)
		lastStatus = status
		if err == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Warn("request failed, retrying",
			"offset", offset,
			"attempt", attempts,
			"backoff", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(operation, s.newBackOff(ctx), notify)
	if err == nil {
		return &resp, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && !statusErr.Retryable() {
		return nil, &domain.FatalFetchError{
			Offset:     offset,
			StatusCode: statusErr.StatusCode,
			Err:        err,
		}
	}

	return nil, &domain.TransientFetchError{
		Offset:     offset,
		Attempts:   attempts,
		StatusCode: lastStatus,
		Err:        err,
	}
}

// newBackOff doubles the delay from initialBackoff up to maxBackoff and stops
// after maxRetries retries.
func (s *Source) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.initialBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = s.maxBackoff
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.maxRetries)), ctx)
}

func (s *Source) transform(list ItemList) []domain.Item {
	raw := make([]APIItem, 0, len(list))
	for _, it := range list {
		raw = append(raw, it)
	}
	sort.SliceStable(raw, func(i, j int) bool {
		if raw[i].SortID != raw[j].SortID {
			return raw[i].SortID < raw[j].SortID
		}
		return raw[i].ItemID < raw[j].ItemID
	})

	items := make([]domain.Item, 0, len(raw))
	for _, it := range raw {
		item := domain.Item{
			ID:       it.ItemID,
			URL:      it.ResolvedURL,
			GivenURL: it.GivenURL,
			Title:    firstNonEmpty(it.ResolvedTitle, it.GivenTitle),
			Excerpt:  it.Excerpt,
		}

		if it.WordCount != "" {
			if n, err := strconv.Atoi(it.WordCount); err == nil {
				item.WordCount = n
			}
		}

		if it.TimeAdded != "" {
			secs, err := strconv.ParseInt(it.TimeAdded, 10, 64)
			if err != nil {
				s.logger.Warn("failed to parse time_added",
					"item_id", it.ItemID,
					"time_added", it.TimeAdded,
				)
			} else {
				item.SavedAt = time.Unix(secs, 0).UTC()
			}
		}

		labels := make([]string, 0, len(it.Tags))
		for label := range it.Tags {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			item.Tags = append(item.Tags, domain.Tag{Label: label})
		}

		items = append(items, item)
	}

	return items
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
