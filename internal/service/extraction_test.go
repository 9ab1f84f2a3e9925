package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"pocket_archiver/internal/domain"
	"pocket_archiver/internal/extract"
	"pocket_archiver/internal/service/mocks"
)

type ExtractionServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	extractor *mocks.MockArticleExtractor
	publisher *mocks.MockPublisher
	sink      *memorySink

	ctx context.Context
}

func (s *ExtractionServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.extractor = mocks.NewMockArticleExtractor(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.sink = newMemorySink()
	s.ctx = context.Background()
}

func (s *ExtractionServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestExtractionServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ExtractionServiceTestSuite))
}

func (s *ExtractionServiceTestSuite) seed(items []domain.Item) {
	records := make([]domain.Record, len(items))
	for i, item := range items {
		records[i] = domain.Record{Position: i, Item: item}
	}
	s.Require().NoError(s.sink.Append(s.ctx, records))
}

func (s *ExtractionServiceTestSuite) TestRun_ExtractsPendingInOrder() {
	items := makeItems(3)
	s.seed(items)

	// records are published only after their batch is stored
	gomock.InOrder(
		s.extractor.EXPECT().Extract(s.ctx, items[0]).Return(domain.Succeeded("Zero", "<p>0</p>", "zero")),
		s.extractor.EXPECT().Extract(s.ctx, items[1]).Return(domain.Failed("HTTP error: 403 Forbidden")),
		s.extractor.EXPECT().Extract(s.ctx, items[2]).Return(domain.Succeeded("Two", "<p>2</p>", "two")),
		s.publisher.EXPECT().Publish(s.ctx, gomock.Any()).DoAndReturn(
			func(ctx context.Context, r *domain.Record) error {
				s.Equal(items[0].ID, r.Item.ID)
				s.Require().NotNil(r.Extraction)
				s.Equal("zero", r.Extraction.Text)
				found, err := s.sink.Has(ctx, []string{items[2].ID})
				s.Require().NoError(err)
				s.True(found[items[2].ID])
				return nil
			}),
		s.publisher.EXPECT().Publish(s.ctx, gomock.Any()).Return(errors.New("channel closed")),
	)

	svc := NewExtractionService(s.sink, s.extractor, s.publisher, testLogger(), 10)
	report, err := svc.Run(s.ctx)

	s.Require().NoError(err)
	s.Equal(3, report.Attempted)
	s.Equal(2, report.Succeeded)
	s.Equal(1, report.Failed)
	s.Equal(1, report.Published)
	s.Equal([]string{"https://example.com/1: HTTP error: 403 Forbidden"}, report.Failures)
	s.Equal(2, s.sink.appends, "seed plus one batch")

	records, err := s.sink.Records(s.ctx)
	s.Require().NoError(err)
	for _, r := range records {
		s.False(r.Pending(), "item %s", r.Item.ID)
	}
}

func (s *ExtractionServiceTestSuite) TestRun_SkipsExtractedRecords() {
	items := makeItems(2)
	s.seed(items)
	done := domain.Failed("HTTP error: 404 Not Found")
	s.Require().NoError(s.sink.Append(s.ctx, []domain.Record{{Position: 0, Item: items[0], Extraction: &done}}))

	s.extractor.EXPECT().Extract(s.ctx, items[1]).Return(domain.Succeeded("One", "", "one"))

	report, err := NewExtractionService(s.sink, s.extractor, nil, testLogger(), 0).Run(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, report.Skipped)
	s.Equal(1, report.Attempted)
	s.Equal(1, report.Succeeded)
	s.Zero(report.Published)
}

func (s *ExtractionServiceTestSuite) TestRun_InterruptLeavesItemPending() {
	items := makeItems(3)
	s.seed(items)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	s.extractor.EXPECT().Extract(ctx, items[0]).Return(domain.Succeeded("Zero", "", "zero"))
	s.extractor.EXPECT().Extract(ctx, items[1]).DoAndReturn(
		func(context.Context, domain.Item) domain.ExtractionResult {
			cancel()
			return domain.Failed("request failed: context canceled")
		})

	report, err := NewExtractionService(s.sink, s.extractor, nil, testLogger(), 10).Run(ctx)

	s.ErrorIs(err, context.Canceled)
	s.Equal(1, report.Attempted)
	s.Zero(report.Failed)
	s.Equal(2, s.sink.appends, "the unfinished batch is stored on interrupt")

	records, _ := s.sink.Records(s.ctx)
	s.False(records[0].Pending())
	s.True(records[1].Pending())
	s.True(records[2].Pending())
}

func TestExtraction_FailureCountsWithHTTPServer(t *testing.T) {
	body := "<html><head><title>Readable</title></head><body><article><p>" +
		strings.Repeat("Plenty of readable words in this paragraph. ", 10) +
		"</p></article></body></html>"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/blocked") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	items := makeItems(5)
	for i := range items {
		items[i].URL = server.URL + "/post/" + items[i].ID
	}
	items[1].URL = server.URL + "/1/blocked"
	items[3].URL = server.URL + "/3/blocked"

	sink := newMemorySink()
	records := make([]domain.Record, len(items))
	for i, item := range items {
		records[i] = domain.Record{Position: i, Item: item}
	}
	require.NoError(t, sink.Append(context.Background(), records))

	extractor := extract.New(extract.Config{}, extract.SelectorReducer{}, testLogger())
	report, err := NewExtractionService(sink, extractor, nil, testLogger(), 2).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5, report.Attempted)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, items[1].URL+": HTTP error: 403 Forbidden", report.Failures[0])

	stored, err := sink.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Readable", stored[0].Extraction.Title)
	assert.Contains(t, stored[0].Extraction.Text, "Plenty of readable words")
}

func (s *ExtractionServiceTestSuite) TestRun_WritesOncePerBatch() {
	items := makeItems(7)
	s.seed(items)
	seeded := s.sink.appends

	s.extractor.EXPECT().Extract(s.ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, item domain.Item) domain.ExtractionResult {
			return domain.Succeeded(item.Title, "", "text of "+item.ID)
		}).Times(7)

	report, err := NewExtractionService(s.sink, s.extractor, nil, testLogger(), 3).Run(s.ctx)

	s.Require().NoError(err)
	s.Equal(7, report.Succeeded)
	s.Equal(3, s.sink.appends-seeded, "7 items in batches of 3")

	records, err := s.sink.Records(s.ctx)
	s.Require().NoError(err)
	for _, r := range records {
		s.Require().False(r.Pending(), "item %s", r.Item.ID)
		s.Equal("text of "+r.Item.ID, r.Extraction.Text)
	}
}

func (s *ExtractionServiceTestSuite) TestRun_StoreFailureStopsRun() {
	items := makeItems(2)
	s.seed(items)

	failing := &failingSink{memorySink: s.sink, err: errDiskFull}
	s.extractor.EXPECT().Extract(s.ctx, gomock.Any()).Return(domain.Succeeded("", "", "text")).Times(2)

	report, err := NewExtractionService(failing, s.extractor, s.publisher, testLogger(), 5).Run(s.ctx)

	s.ErrorIs(err, errDiskFull)
	s.Equal(2, report.Attempted)
	s.Zero(report.Published)

	records, _ := s.sink.Records(s.ctx)
	for _, r := range records {
		s.True(r.Pending())
	}
}

func TestExtractionReport_KeepsFirstFailures(t *testing.T) {
	var report domain.ExtractionReport
	for i := 0; i < 25; i++ {
		report.RecordFailure("failure")
	}
	assert.Equal(t, 25, report.Failed)
	assert.Len(t, report.Failures, domain.MaxReportedFailures)
}
