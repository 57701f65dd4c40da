package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ammar1510/tripchat/internal/models"
)

// History reads trip history over the REST fallback.
type History struct {
	BaseURL string
	Token   string
	Limit   int
	HTTP    *http.Client
}

func NewHistory(baseURL, token string) *History {
	return &History{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Page fetches the messages older than before ("" for the newest page).
func (h *History) Page(ctx context.Context, tripID uuid.UUID, before string) (*models.MessagePage, error) {
	q := url.Values{}
	if before != "" {
		q.Set("before", before)
	}
	if h.Limit > 0 {
		q.Set("limit", strconv.Itoa(h.Limit))
	}
	endpoint := fmt.Sprintf("%s/api/trips/%s/messages", h.BaseURL, tripID)
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.Token)

	resp, err := h.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("history: %s: %s", resp.Status, body.Error)
	}

	var page models.MessagePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("history: decode page: %w", err)
	}
	return &page, nil
}
