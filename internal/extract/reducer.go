package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Article is the reader-view subset of a page.
type Article struct {
	Title string
	HTML  string
	Text  string
}

// Reducer strips a raw page down to its readable article. Implementations
// are interchangeable; the pipeline only depends on this method.
type Reducer interface {
	Reduce(raw []byte, pageURL *url.URL) (Article, error)
}

// NewReducer returns the reducer registered under name.
func NewReducer(name string) (Reducer, error) {
	switch name {
	case "", "readability":
		return ReadabilityReducer{}, nil
	case "selector":
		return SelectorReducer{}, nil
	default:
		return nil, fmt.Errorf("unknown reducer %q", name)
	}
}

var blockTags = map[string]bool{
	"address": true, "article": true, "blockquote": true, "br": true, "dd": true,
	"div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"hr": true, "li": true, "main": true, "ol": true, "p": true, "pre": true,
	"section": true, "table": true, "td": true, "th": true, "tr": true, "ul": true,
}

var invisibleTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "head": true,
}

// TextLines flattens the selection to plain text with one line per block
// element. Whitespace inside a line is collapsed and empty lines are dropped.
func TextLines(sel *goquery.Selection) string {
	var (
		lines   []string
		current strings.Builder
	)

	flush := func() {
		line := strings.Join(strings.Fields(current.String()), " ")
		if line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			current.WriteString(n.Data)
			current.WriteByte(' ')
			return
		case html.ElementNode:
			if invisibleTags[n.Data] {
				return
			}
			if blockTags[n.Data] {
				flush()
				defer flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	for _, n := range sel.Nodes {
		walk(n)
	}
	flush()

	return strings.Join(lines, "\n")
}

// htmlText parses an HTML fragment and flattens it with TextLines.
func htmlText(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parse article html: %w", err)
	}
	return TextLines(doc.Selection), nil
}
