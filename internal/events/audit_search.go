package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// AuditQuery filters the audit trail. Empty fields match everything.
type AuditQuery struct {
	Type     string
	Username string
	UserID   string
	From     int
	Size     int
}

// Search returns matching events newest first, with the total hit count.
func (a *AuditIndexer) Search(ctx context.Context, q AuditQuery) (int64, []Event, error) {
	var filters []map[string]any
	for field, value := range map[string]string{
		"type.keyword":     q.Type,
		"username.keyword": q.Username,
		"user_id.keyword":  q.UserID,
	} {
		if value != "" {
			filters = append(filters, map[string]any{"term": map[string]any{field: value}})
		}
	}
	query := map[string]any{"match_all": map[string]any{}}
	if len(filters) > 0 {
		query = map[string]any{"bool": map[string]any{"filter": filters}}
	}

	body := map[string]any{
		"query": query,
		"sort":  []map[string]any{{"occurred_at": map[string]any{"order": "desc"}}},
		"from":  q.From,
		"size":  q.Size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, fmt.Errorf("elasticsearch: encode audit query: %w", err)
	}

	res, err := a.ES.Search(
		a.ES.Search.WithContext(ctx),
		a.ES.Search.WithIndex(a.Index),
		a.ES.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("elasticsearch: search %s: %w", a.Index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return 0, nil, fmt.Errorf("elasticsearch: search %s: %s: %s", a.Index, res.Status(), msg)
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, nil, fmt.Errorf("elasticsearch: decode audit hits: %w", err)
	}

	out := make([]Event, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		out[i] = hit.Source
	}
	return r.Hits.Total.Value, out, nil
}
