package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// ReadabilityReducer uses the Readability.js port to find the article body.
type ReadabilityReducer struct{}

func (ReadabilityReducer) Reduce(raw []byte, pageURL *url.URL) (Article, error) {
	article, err := readability.FromReader(bytes.NewReader(raw), pageURL)
	if err != nil {
		return Article{}, fmt.Errorf("readability: %w", err)
	}

	text, err := htmlText(article.Content)
	if err != nil {
		return Article{}, err
	}
	if text == "" {
		text = strings.TrimSpace(article.TextContent)
	}
	if text == "" {
		return Article{}, errors.New("readability: no article content found")
	}

	return Article{
		Title: strings.TrimSpace(article.Title),
		HTML:  article.Content,
		Text:  text,
	}, nil
}
