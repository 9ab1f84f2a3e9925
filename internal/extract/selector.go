package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// boilerplate is removed before a content root is chosen.
const boilerplate = "script, style, noscript, iframe, svg, form, nav, header, footer, aside, " +
	"[role=navigation], [role=banner], [role=contentinfo], [aria-hidden=true], " +
	".ad, .ads, .advert, .advertisement, .sponsored, .share, .social, .related, .comments, #comments"

// contentRoots are tried in order; the first with enough text wins.
var contentRoots = []string{
	"article",
	"main",
	"[role=main]",
	"[itemprop=articleBody]",
	".entry-content",
	".post-content",
	"#content",
}

const minRootText = 200

// SelectorReducer prefers semantic containers such as <article> and <main>
// and falls back to the whole body with boilerplate removed.
type SelectorReducer struct{}

func (SelectorReducer) Reduce(raw []byte, _ *url.URL) (Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return Article{}, fmt.Errorf("parse html: %w", err)
	}

	title := pageTitle(doc)
	doc.Find(boilerplate).Remove()

	root := doc.Find("body")
	for _, selector := range contentRoots {
		candidate := doc.Find(selector).First()
		if candidate.Length() == 0 {
			continue
		}
		if len(strings.TrimSpace(candidate.Text())) >= minRootText {
			root = candidate
			break
		}
	}

	text := TextLines(root)
	if text == "" {
		return Article{}, errors.New("selector: no article content found")
	}

	content, err := goquery.OuterHtml(root)
	if err != nil {
		return Article{}, fmt.Errorf("render article html: %w", err)
	}

	return Article{
		Title: title,
		HTML:  content,
		Text:  text,
	}, nil
}

func pageTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return strings.Join(strings.Fields(t), " ")
	}
	return strings.Join(strings.Fields(doc.Find("h1").First().Text()), " ")
}
