package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"pocket_archiver/internal/domain"
	"pocket_archiver/internal/fsutil"
)

const frontMatterDelim = "---\n"

// MarkdownDir writes one Markdown file per item, named after the item id and
// a slug of its title. Metadata lives in YAML front matter so the directory
// can be read back on resume.
type MarkdownDir struct {
	mu    sync.Mutex
	dir   string
	files map[string]string // item id -> file name
}

type frontMatter struct {
	PocketID     string     `yaml:"pocket_id"`
	Position     int        `yaml:"position"`
	URL          string     `yaml:"url"`
	GivenURL     string     `yaml:"given_url,omitempty"`
	Title        string     `yaml:"title"`
	Excerpt      string     `yaml:"excerpt,omitempty"`
	Tags         []string   `yaml:"tags"`
	WordCount    int        `yaml:"word_count"`
	SavedAt      time.Time  `yaml:"saved_at"`
	Extraction   string     `yaml:"extraction,omitempty"`
	Error        string     `yaml:"extraction_error,omitempty"`
	ArticleTitle string     `yaml:"article_title,omitempty"`
	ExtractedAt  *time.Time `yaml:"extracted_at,omitempty"`
}

// OpenMarkdownDir indexes the files already present in dir.
func OpenMarkdownDir(dir string) (*MarkdownDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	s := &MarkdownDir{
		dir:   dir,
		files: make(map[string]string),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		rec, err := s.readFile(e.Name())
		if err != nil {
			return nil, err
		}
		s.files[rec.Item.ID] = e.Name()
	}

	return s, nil
}

func (s *MarkdownDir) Dir() string {
	return s.dir
}

func (s *MarkdownDir) Append(ctx context.Context, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		prevName, found := s.files[r.Item.ID]
		var existing domain.Record
		if found && r.Extraction == nil {
			var err error
			existing, err = s.readFile(prevName)
			if err != nil {
				return err
			}
		}
		r = merge(existing, found, r)

		name := FileName(r.Item)
		data, err := render(r)
		if err != nil {
			return fmt.Errorf("render item %s: %w", r.Item.ID, err)
		}
		if err := fsutil.WriteFileAtomic(filepath.Join(s.dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write item %s: %w", r.Item.ID, err)
		}
		if found && prevName != name {
			if err := os.Remove(filepath.Join(s.dir, prevName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove stale file %s: %w", prevName, err)
			}
		}
		s.files[r.Item.ID] = name
	}

	return nil
}

func (s *MarkdownDir) Records(ctx context.Context) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Record, 0, len(s.files))
	for _, name := range s.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.readFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortByPosition(out)
	return out, nil
}

func (s *MarkdownDir) Has(ctx context.Context, ids []string) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := make(map[string]bool)
	for _, id := range ids {
		if _, ok := s.files[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

// FileName is the stable file name of an item.
func FileName(item domain.Item) string {
	slug := Slugify(item.Title)
	if slug == "" {
		slug = "untitled"
	}
	return fmt.Sprintf("%s-%s.md", item.ID, slug)
}

func render(r domain.Record) ([]byte, error) {
	fm := frontMatter{
		PocketID:  r.Item.ID,
		Position:  r.Position,
		URL:       r.Item.SourceURL(),
		Title:     r.Item.Title,
		Excerpt:   r.Item.Excerpt,
		Tags:      r.Item.TagLabels(),
		WordCount: r.Item.WordCount,
		SavedAt:   r.Item.SavedAt,
	}
	if r.Item.GivenURL != "" && r.Item.GivenURL != fm.URL {
		fm.GivenURL = r.Item.GivenURL
	}

	var body string
	if r.Extraction != nil {
		fm.Extraction = string(r.Extraction.Status)
		fm.Error = r.Extraction.Reason
		fm.ArticleTitle = r.Extraction.Title
		extractedAt := r.Extraction.ExtractedAt
		fm.ExtractedAt = &extractedAt
		body = r.Extraction.Text
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, err
	}

	heading := r.Item.Title
	if r.Extraction != nil && r.Extraction.Title != "" {
		heading = r.Extraction.Title
	}
	// the heading must stay on one line for parse to find the body
	heading = strings.Join(strings.Fields(heading), " ")
	if heading == "" {
		heading = "untitled"
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim)
	buf.Write(header)
	buf.WriteString(frontMatterDelim)
	buf.WriteString("\n# ")
	buf.WriteString(heading)
	buf.WriteString("\n\n")
	if body != "" {
		buf.WriteString(body)
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

func (s *MarkdownDir) readFile(name string) (domain.Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return domain.Record{}, fmt.Errorf("read %s: %w", name, err)
	}
	rec, err := parse(data)
	if err != nil {
		return domain.Record{}, fmt.Errorf("parse %s: %w", name, err)
	}
	return rec, nil
}

func parse(data []byte) (domain.Record, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim) {
		return domain.Record{}, errors.New("missing front matter")
	}
	rest := text[len(frontMatterDelim):]
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return domain.Record{}, errors.New("unterminated front matter")
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fm); err != nil {
		return domain.Record{}, err
	}
	if fm.PocketID == "" {
		return domain.Record{}, errors.New("front matter without pocket_id")
	}

	rec := domain.Record{
		Position: fm.Position,
		Item: domain.Item{
			ID:        fm.PocketID,
			URL:       fm.URL,
			GivenURL:  fm.GivenURL,
			Title:     fm.Title,
			Excerpt:   fm.Excerpt,
			WordCount: fm.WordCount,
			SavedAt:   fm.SavedAt,
		},
	}
	for _, label := range fm.Tags {
		rec.Item.Tags = append(rec.Item.Tags, domain.Tag{Label: label})
	}

	if fm.Extraction != "" {
		result := domain.ExtractionResult{
			Status: domain.ExtractionStatus(fm.Extraction),
			Title:  fm.ArticleTitle,
			Reason: fm.Error,
		}
		if fm.ExtractedAt != nil {
			result.ExtractedAt = *fm.ExtractedAt
		}
		body := rest[end+1+len(frontMatterDelim):]
		body = strings.TrimPrefix(body, "\n")
		if i := strings.Index(body, "\n\n"); strings.HasPrefix(body, "# ") && i >= 0 {
			body = body[i+2:]
		}
		result.Text = strings.TrimSuffix(body, "\n")
		rec.Extraction = &result
	}

	return rec, nil
}
