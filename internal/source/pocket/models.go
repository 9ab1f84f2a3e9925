package pocket

import (
	"bytes"
	"encoding/json"
)

// APIResponse represents the /v3/get response structure.
type APIResponse struct {
	Status   int      `json:"status"`
	Complete int      `json:"complete"`
	List     ItemList `json:"list"`
	Total    string   `json:"total"`
	Since    int64    `json:"since"`
}

// ItemList is keyed by item id. Pocket sends an empty JSON array instead of
// an object when there are no items.
type ItemList map[string]APIItem

func (l *ItemList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) || bytes.Equal(trimmed, []byte("null")) {
		*l = ItemList{}
		return nil
	}
	m := map[string]APIItem{}
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return err
	}
	*l = m
	return nil
}

type APIItem struct {
	ItemID        string            `json:"item_id"`
	ResolvedID    string            `json:"resolved_id"`
	GivenURL      string            `json:"given_url"`
	GivenTitle    string            `json:"given_title"`
	ResolvedURL   string            `json:"resolved_url"`
	ResolvedTitle string            `json:"resolved_title"`
	Excerpt       string            `json:"excerpt"`
	WordCount     string            `json:"word_count"`
	Status        string            `json:"status"`
	TimeAdded     string            `json:"time_added"`
	SortID        int               `json:"sort_id"`
	Tags          map[string]APITag `json:"tags"`
}

type APITag struct {
	ItemID string `json:"item_id"`
	Tag    string `json:"tag"`
}

type requestCodeResponse struct {
	Code string `json:"code"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
}
