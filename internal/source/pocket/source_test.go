package pocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pocket_archiver/internal/domain"
)

type recordedRequest struct {
	contentType string
	form        url.Values
	hasOffset   bool
}

type SourceTestSuite struct {
	suite.Suite

	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request, call int)

	server *httptest.Server
	source *Source
	cred   domain.Credential
}

func (s *SourceTestSuite) SetupTest() {
	s.requests = nil
	s.handler = nil

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Require().Equal("/v3/get", r.URL.Path)
		s.Require().NoError(r.ParseForm())

		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			contentType: r.Header.Get("Content-Type"),
			form:        r.PostForm,
			hasOffset:   r.PostForm.Has("offset"),
		})
		call := len(s.requests)
		s.mu.Unlock()

		s.handler(w, r, call)
	}))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.source = New(Config{
		BaseURL:        s.server.URL,
		State:          "all",
		DetailType:     "complete",
		Sort:           "oldest",
		Timeout:        2 * time.Second,
		MaxRetries:     5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
	}, logger)
	s.cred = domain.Credential{ConsumerKey: "key", AccessToken: "token"}
}

func (s *SourceTestSuite) TearDownTest() {
	s.server.Close()
}

func TestSourceTestSuite(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

// listBody renders n items starting at first, with sort ids in reverse map
// order to make sure the source orders by sort_id.
func listBody(first, n int) string {
	if n == 0 {
		return `{"status":2,"complete":1,"list":[],"total":"0"}`
	}
	body := `{"status":1,"complete":1,"total":"100","list":{`
	for i := n - 1; i >= 0; i-- {
		id := first + i
		if i != n-1 {
			body += ","
		}
		body += fmt.Sprintf(`"%d":{"item_id":"%d","given_url":"https://example.com/given/%d","resolved_url":"https://example.com/%d","resolved_title":"Item %d","word_count":"%d","time_added":"1700000000","sort_id":%d,"tags":{"zeta":{"item_id":"%d","tag":"zeta"},"alpha":{"item_id":"%d","tag":"alpha"}}}`,
			id, id, id, id, id, 100+i, i, id, id)
	}
	return body + `}}`
}

func (s *SourceTestSuite) respondWithPages(pageSize int) {
	s.handler = func(w http.ResponseWriter, r *http.Request, _ int) {
		offset, _ := strconv.Atoi(r.PostForm.Get("offset"))
		remaining := 45 - offset
		n := pageSize
		if remaining < n {
			n = remaining
		}
		_, _ = fmt.Fprint(w, listBody(offset, n))
	}
}

func (s *SourceTestSuite) TestFetchPage_FirstPageOmitsOffset() {
	s.respondWithPages(30)

	page, err := s.source.FetchPage(context.Background(), s.cred, 0, 30)
	s.Require().NoError(err)

	s.Require().Len(s.requests, 1)
	req := s.requests[0]
	s.False(req.hasOffset)
	s.Equal(formContentType, req.contentType)
	s.Equal("key", req.form.Get("consumer_key"))
	s.Equal("token", req.form.Get("access_token"))
	s.Equal("30", req.form.Get("count"))
	s.Equal("all", req.form.Get("state"))
	s.Equal("complete", req.form.Get("detailType"))

	s.Len(page.Items, 30)
	s.True(page.HasMore)
}

func (s *SourceTestSuite) TestFetchPage_LaterPagesSendOffset() {
	s.respondWithPages(30)

	page, err := s.source.FetchPage(context.Background(), s.cred, 30, 30)
	s.Require().NoError(err)

	s.Require().Len(s.requests, 1)
	s.True(s.requests[0].hasOffset)
	s.Equal("30", s.requests[0].form.Get("offset"))
	s.Len(page.Items, 15)
	s.False(page.HasMore)
}

func (s *SourceTestSuite) TestFetchPage_CapsPageSize() {
	s.handler = func(w http.ResponseWriter, r *http.Request, _ int) {
		n, _ := strconv.Atoi(r.PostForm.Get("count"))
		_, _ = fmt.Fprint(w, listBody(0, n))
	}

	page, err := s.source.FetchPage(context.Background(), s.cred, 0, 100)
	s.Require().NoError(err)

	s.Equal("30", s.requests[0].form.Get("count"))
	s.LessOrEqual(len(page.Items), MaxPageSize)
	s.True(page.HasMore)
}

func (s *SourceTestSuite) TestFetchPage_TruncatesOversizedResponse() {
	s.handler = func(w http.ResponseWriter, _ *http.Request, _ int) {
		_, _ = fmt.Fprint(w, listBody(0, 40))
	}

	page, err := s.source.FetchPage(context.Background(), s.cred, 0, 100)
	s.Require().NoError(err)

	s.Equal("30", s.requests[0].form.Get("count"))
	s.Require().Len(page.Items, MaxPageSize)
	s.Equal("0", page.Items[0].ID)
	s.Equal("29", page.Items[29].ID)
	s.True(page.HasMore)
}

func (s *SourceTestSuite) TestFetchPage_EmptyListEndsRetrieval() {
	s.handler = func(w http.ResponseWriter, _ *http.Request, _ int) {
		_, _ = fmt.Fprint(w, listBody(0, 0))
	}

	page, err := s.source.FetchPage(context.Background(), s.cred, 60, 30)
	s.Require().NoError(err)
	s.Empty(page.Items)
	s.False(page.HasMore)
}

func (s *SourceTestSuite) TestFetchPage_TransformsItems() {
	s.respondWithPages(3)

	page, err := s.source.FetchPage(context.Background(), s.cred, 0, 3)
	s.Require().NoError(err)
	s.Require().Len(page.Items, 3)

	first := page.Items[0]
	s.Equal("0", first.ID)
	s.Equal("https://example.com/0", first.URL)
	s.Equal("https://example.com/given/0", first.GivenURL)
	s.Equal("Item 0", first.Title)
	s.Equal(100, first.WordCount)
	s.Equal(time.Unix(1700000000, 0).UTC(), first.SavedAt)
	s.Equal([]string{"alpha", "zeta"}, first.TagLabels())

	s.Equal("1", page.Items[1].ID)
	s.Equal("2", page.Items[2].ID)
}

func (s *SourceTestSuite) TestFetchPage_RetriesUntilSuccess() {
	s.handler = func(w http.ResponseWriter, _ *http.Request, call int) {
		if call <= 4 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, listBody(0, 30))
	}

	page, err := s.source.FetchPage(context.Background(), s.cred, 0, 30)
	s.Require().NoError(err)
	s.Len(page.Items, 30)
	s.Len(s.requests, 5)
}

func (s *SourceTestSuite) TestFetchPage_RetriesRateLimit() {
	s.handler = func(w http.ResponseWriter, _ *http.Request, call int) {
		if call == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = fmt.Fprint(w, listBody(0, 2))
	}

	_, err := s.source.FetchPage(context.Background(), s.cred, 0, 30)
	s.Require().NoError(err)
	s.Len(s.requests, 2)
}

func (s *SourceTestSuite) TestFetchPage_ExhaustedRetries() {
	s.handler = func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusBadGateway)
	}

	_, err := s.source.FetchPage(context.Background(), s.cred, 60, 30)
	s.Require().Error(err)

	var transient *domain.TransientFetchError
	s.Require().True(errors.As(err, &transient))
	s.Equal(60, transient.Offset)
	s.Equal(6, transient.Attempts)
	s.Equal(http.StatusBadGateway, transient.StatusCode)
	s.Len(s.requests, 6)
}

func (s *SourceTestSuite) TestFetchPage_ClientErrorIsFatal() {
	s.handler = func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.Header().Set("X-Error", "Invalid consumer key.")
		w.WriteHeader(http.StatusForbidden)
	}

	_, err := s.source.FetchPage(context.Background(), s.cred, 0, 30)
	s.Require().Error(err)

	var fatal *domain.FatalFetchError
	s.Require().True(errors.As(err, &fatal))
	s.Equal(http.StatusForbidden, fatal.StatusCode)
	s.Contains(err.Error(), "Invalid consumer key.")
	s.Len(s.requests, 1)
}

func (s *SourceTestSuite) TestFetchPage_PerAttemptTimeout() {
	s.source.timeout = 20 * time.Millisecond
	s.handler = func(w http.ResponseWriter, r *http.Request, call int) {
		if call == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		_, _ = fmt.Fprint(w, listBody(0, 1))
	}

	page, err := s.source.FetchPage(context.Background(), s.cred, 0, 30)
	s.Require().NoError(err)
	s.Len(page.Items, 1)
	s.Len(s.requests, 2)
}

func (s *SourceTestSuite) TestFetchPage_ContextCanceled() {
	ctx, cancel := context.WithCancel(context.Background())
	s.handler = func(w http.ResponseWriter, _ *http.Request, _ int) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_, err := s.source.FetchPage(ctx, s.cred, 0, 30)
	s.Require().ErrorIs(err, context.Canceled)
}
