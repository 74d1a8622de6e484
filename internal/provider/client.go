// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/models"
)

// maxErrorBodySize limits how much of an error response is kept for lastError.
const maxErrorBodySize = 512

// errorBody trims an error response to valid UTF-8 of at most
// maxErrorBodySize bytes, cut on a rune boundary.
func errorBody(raw string) string {
	body := strings.ToValidUTF8(strings.TrimSpace(raw), "\uFFFD")
	if len(body) <= maxErrorBodySize {
		return body
	}
	n := maxErrorBodySize
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	return body[:n]
}

// maxListPages stops a misbehaving provider from paging forever.
const maxListPages = 1000

// Wire format of the provider's REST API.
type (
	videoResponse struct {
		ID              string     `json:"id"`
		Title           string     `json:"title"`
		Description     string     `json:"description"`
		PublishedAt     time.Time  `json:"published_at"`
		DurationSeconds int        `json:"duration_seconds"`
		ThumbnailURL    string     `json:"thumbnail_url"`
		Category        string     `json:"category"`
		Tags            []string   `json:"tags"`
		Statistics      statistics `json:"statistics"`
	}

	statistics struct {
		Views    int64 `json:"views"`
		Likes    int64 `json:"likes"`
		Comments int64 `json:"comments"`
		Shares   int64 `json:"shares"`
	}

	analyticsResponse struct {
		WatchTimeMinutes    float64            `json:"watch_time_minutes"`
		AverageViewDuration float64            `json:"average_view_duration"`
		RetentionRate       float64            `json:"retention_rate"`
		ClickThroughRate    float64            `json:"click_through_rate"`
		Impressions         int64              `json:"impressions"`
		EstimatedRevenue    float64            `json:"estimated_revenue"`
		CPM                 float64            `json:"cpm"`
		GrowthRate          float64            `json:"growth_rate"`
		SubscriberDelta     int64              `json:"subscriber_delta"`
		TrafficSources      []models.Breakdown `json:"traffic_sources"`
		Demographics        []models.Breakdown `json:"demographics"`
	}

	videoListResponse struct {
		VideoIDs      []string `json:"video_ids"`
		NextPageToken string   `json:"next_page_token"`
	}
)

// HTTPClient is the REST implementation of Provider.
type HTTPClient struct {
	client *resty.Client
}

// NewHTTPClient creates a client for the provider at cfg.BaseURL.
func NewHTTPClient(cfg config.ProviderConfig) *HTTPClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "tubepulse-sync").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Only transport failures and gateway errors; 429 is left to the
			// queue's backoff.
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			switch r.StatusCode() {
			case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				return true
			}
			return false
		})

	return &HTTPClient{client: client}
}

// FetchBasic implements Provider.
func (c *HTTPClient) FetchBasic(ctx context.Context, cred Credential, externalID string) (*BasicSnapshot, error) {
	var out videoResponse
	if err := c.get(ctx, "fetch_basic", cred, "/v1/videos/{id}", map[string]string{"id": externalID}, nil, &out); err != nil {
		return nil, err
	}
	return &BasicSnapshot{
		Metrics: models.BasicMetrics{
			ViewCount:    out.Statistics.Views,
			LikeCount:    out.Statistics.Likes,
			CommentCount: out.Statistics.Comments,
			ShareCount:   out.Statistics.Shares,
		},
		Metadata: models.VideoMetadata{
			Title:           out.Title,
			Description:     out.Description,
			PublishedAt:     out.PublishedAt.UTC(),
			DurationSeconds: out.DurationSeconds,
			ThumbnailURL:    out.ThumbnailURL,
			Category:        out.Category,
			Tags:            out.Tags,
		},
	}, nil
}

// FetchDetailed implements Provider.
func (c *HTTPClient) FetchDetailed(ctx context.Context, cred Credential, externalID string) (*models.DetailedMetrics, error) {
	var out analyticsResponse
	if err := c.get(ctx, "fetch_detailed", cred, "/v1/videos/{id}/analytics", map[string]string{"id": externalID}, nil, &out); err != nil {
		return nil, err
	}
	return &models.DetailedMetrics{
		WatchTimeMinutes:    out.WatchTimeMinutes,
		AverageViewDuration: out.AverageViewDuration,
		RetentionRate:       out.RetentionRate,
		ClickThroughRate:    out.ClickThroughRate,
		Impressions:         out.Impressions,
		EstimatedRevenue:    out.EstimatedRevenue,
		CPM:                 out.CPM,
		GrowthRate:          out.GrowthRate,
		SubscriberDelta:     out.SubscriberDelta,
		TrafficSources:      out.TrafficSources,
		Demographics:        out.Demographics,
	}, nil
}

// ListVideos implements Provider, following page tokens to the end.
func (c *HTTPClient) ListVideos(ctx context.Context, cred Credential) ([]string, error) {
	var (
		ids   []string
		token string
	)
	for page := 0; page < maxListPages; page++ {
		var out videoListResponse
		query := map[string]string{}
		if token != "" {
			query["page_token"] = token
		}
		if err := c.get(ctx, "list_videos", cred, "/v1/owners/{owner}/videos", map[string]string{"owner": cred.OwnerID}, query, &out); err != nil {
			return nil, err
		}
		ids = append(ids, out.VideoIDs...)
		if out.NextPageToken == "" {
			return ids, nil
		}
		token = out.NextPageToken
	}
	return nil, &Error{Kind: KindPermanent, Op: "list_videos", Err: fmt.Errorf("more than %d pages", maxListPages)}
}

func (c *HTTPClient) get(ctx context.Context, op string, cred Credential, path string, pathParams, query map[string]string, out interface{}) error {
	req := c.client.R().
		SetContext(ctx).
		SetPathParams(pathParams).
		SetResult(out)
	if cred.Token != "" {
		req.SetAuthToken(cred.Token)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Get(path)
	if err != nil {
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	if resp.IsSuccess() {
		return nil
	}

	body := errorBody(resp.String())
	if body == "" {
		body = http.StatusText(resp.StatusCode())
	}
	return &Error{
		Kind:       kindForStatus(resp.StatusCode()),
		Op:         op,
		StatusCode: resp.StatusCode(),
		Err:        errors.New(body),
	}
}
