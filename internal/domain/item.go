package domain

import "time"

// Item is one saved entry of the remote library.
type Item struct {
	ID        string    `json:"item_id" db:"item_id"`
	URL       string    `json:"url" db:"url"`
	GivenURL  string    `json:"given_url,omitempty" db:"given_url"`
	Title     string    `json:"title" db:"title"`
	Excerpt   string    `json:"excerpt,omitempty" db:"excerpt"`
	WordCount int       `json:"word_count" db:"word_count"`
	SavedAt   time.Time `json:"saved_at" db:"saved_at"`
	Tags      []Tag     `json:"tags" db:"-"`
}

// SourceURL returns the resolved URL, falling back to the URL the user saved.
func (i Item) SourceURL() string {
	if i.URL != "" {
		return i.URL
	}
	return i.GivenURL
}

// TagLabels returns the labels of the item's tags in order.
func (i Item) TagLabels() []string {
	labels := make([]string, 0, len(i.Tags))
	for _, t := range i.Tags {
		labels = append(labels, t.Label)
	}
	return labels
}

type Tag struct {
	ID    int64  `json:"-" db:"id"`
	Label string `json:"label" db:"label"`
}

// Page is one bounded batch of items returned by a single list call.
type Page struct {
	Offset  int
	Items   []Item
	HasMore bool
}

// Credential is the access token obtained for a consumer key.
type Credential struct {
	ConsumerKey string
	AccessToken string
}

func (c Credential) IsZero() bool {
	return c.AccessToken == ""
}

type ExtractionStatus string

const (
	ExtractionSucceeded ExtractionStatus = "success"
	ExtractionFailed    ExtractionStatus = "failure"
)

// ExtractionResult is the outcome of reducing one item's page to reader text.
type ExtractionResult struct {
	Status      ExtractionStatus `json:"status"`
	Title       string           `json:"title,omitempty"`
	HTML        string           `json:"content_html,omitempty"`
	Text        string           `json:"content_text,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	ExtractedAt time.Time        `json:"extracted_at"`
}

func Succeeded(title, html, text string) ExtractionResult {
	return ExtractionResult{
		Status:      ExtractionSucceeded,
		Title:       title,
		HTML:        html,
		Text:        text,
		ExtractedAt: time.Now().UTC(),
	}
}

func Failed(reason string) ExtractionResult {
	return ExtractionResult{
		Status:      ExtractionFailed,
		Reason:      reason,
		ExtractedAt: time.Now().UTC(),
	}
}

func (r ExtractionResult) OK() bool {
	return r.Status == ExtractionSucceeded
}

// Record is the unit a sink persists. Position is the item's offset in the
// remote list; a nil Extraction means the item was harvested but not yet
// extracted.
type Record struct {
	Position   int               `json:"position"`
	Item       Item              `json:"item"`
	Extraction *ExtractionResult `json:"extraction,omitempty"`
}

func (r Record) Pending() bool {
	return r.Extraction == nil
}
