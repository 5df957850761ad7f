// Package backend talks to the course platform REST API: video access,
// purchase status, progress and checkout-session creation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pot-code/course-player/internal/access"
	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/duration"
	"go.elastic.co/apm/module/apmhttp"
	"go.uber.org/zap"
)

// Config backend client options
type Config struct {
	BaseURL string        // REST API root, eg. https://api.example.com/v1
	PageURL string        // address of the page hosting the player
	Timeout time.Duration // per request timeout
}

// Client REST client for the course platform
type Client struct {
	baseURL string
	pageURL string
	http    *http.Client
	logger  *zap.Logger
}

var (
	_ domain.VideoRepository    = &Client{}
	_ domain.PurchaseRepository = &Client{}
	_ domain.ProgressRepository = &Client{}
	_ domain.CheckoutRepository = &Client{}
)

// NewClient create a backend client, the transport is traced by apm
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		pageURL: cfg.PageURL,
		http:    apmhttp.WrapClient(&http.Client{Timeout: cfg.Timeout}),
		logger:  logger,
	}
}

type videoDTO struct {
	ID            string           `json:"id"`
	Index         int              `json:"index"`
	Title         string           `json:"title"`
	Duration      duration.Seconds `json:"duration"`
	HasAccess     bool             `json:"has_access"`
	IsFreePreview bool             `json:"is_free_preview"`
	VideoURL      string           `json:"video_url"`
}

type videosResponse struct {
	Videos []*videoDTO `json:"videos"`
}

type purchaseStatusResponse struct {
	Purchased bool `json:"purchased"`
}

type progressDTO struct {
	VideoID              string           `json:"video_id"`
	WatchedDuration      duration.Seconds `json:"watched_duration"`
	TotalDuration        duration.Seconds `json:"total_duration"`
	WatchedPercentage    float64          `json:"watched_percentage"`
	CompletionPercentage float64          `json:"completion_percentage"`
	IsCompleted          bool             `json:"is_completed"`
	LastPosition         duration.Seconds `json:"last_position"`
}

type courseProgressDTO struct {
	TotalVideos         int              `json:"total_videos"`
	CompletedVideos     int              `json:"completed_videos"`
	Percentage          float64          `json:"percentage"`
	IsCompleted         bool             `json:"is_completed"`
	LastWatchedVideoID  string           `json:"last_watched_video_id"`
	LastWatchedPosition duration.Seconds `json:"last_watched_position"`
}

type progressUpdateResponse struct {
	Progress       *progressDTO       `json:"progress"`
	CourseProgress *courseProgressDTO `json:"course_progress"`
}

type checkoutRequest struct {
	CourseID string `json:"course_id"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

type errorBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// GetCourseVideos video access query, a missing token still returns free-preview videos
func (c *Client) GetCourseVideos(ctx context.Context, viewer domain.Viewer, courseID string) ([]*domain.Video, error) {
	var res videosResponse
	path := fmt.Sprintf("/courses/%s/videos", url.PathEscape(courseID))
	if err := c.do(ctx, "GetCourseVideos", http.MethodGet, path, viewer, nil, &res); err != nil {
		return nil, err
	}

	videos := make([]*domain.Video, 0, len(res.Videos))
	for i, v := range res.Videos {
		if v == nil {
			continue
		}
		index := v.Index
		if index == 0 {
			index = i + 1
		}
		videos = append(videos, &domain.Video{
			ID:            v.ID,
			Index:         index,
			Title:         v.Title,
			Duration:      v.Duration.Float64(),
			IsFreePreview: v.IsFreePreview,
			HasAccess:     v.HasAccess,
			MediaURL:      v.VideoURL,
			Availability:  access.Classify(v.HasAccess, v.VideoURL, c.pageURL),
		})
	}
	return videos, nil
}

// GetPurchaseStatus purchase-status query
func (c *Client) GetPurchaseStatus(ctx context.Context, viewer domain.Viewer, courseID string) (bool, error) {
	if !viewer.Authenticated() {
		return false, nil
	}
	var res purchaseStatusResponse
	path := fmt.Sprintf("/courses/%s/purchase-status", url.PathEscape(courseID))
	if err := c.do(ctx, "GetPurchaseStatus", http.MethodGet, path, viewer, nil, &res); err != nil {
		return false, err
	}
	return res.Purchased, nil
}

// GetProgress per-video progress query
func (c *Client) GetProgress(ctx context.Context, viewer domain.Viewer, courseID, videoID string) (*domain.Progress, error) {
	var res progressDTO
	if err := c.do(ctx, "GetProgress", http.MethodGet, progressPath(courseID, videoID), viewer, nil, &res); err != nil {
		return nil, err
	}
	return res.toDomain(videoID), nil
}

// UpdateProgress progress flush, returns the updated aggregate
func (c *Client) UpdateProgress(ctx context.Context, viewer domain.Viewer, courseID, videoID string, update *domain.ProgressUpdate) (*domain.ProgressUpdateResult, error) {
	var res progressUpdateResponse
	if err := c.do(ctx, "UpdateProgress", http.MethodPut, progressPath(courseID, videoID), viewer, update, &res); err != nil {
		return nil, err
	}
	result := new(domain.ProgressUpdateResult)
	if res.Progress != nil {
		result.Progress = res.Progress.toDomain(videoID)
	}
	if cp := res.CourseProgress; cp != nil {
		result.Course = &domain.CourseProgress{
			CourseID:            courseID,
			TotalVideos:         cp.TotalVideos,
			CompletedVideos:     cp.CompletedVideos,
			Percentage:          clampPercent(cp.Percentage),
			IsCompleted:         cp.IsCompleted,
			LastWatchedVideoID:  cp.LastWatchedVideoID,
			LastWatchedPosition: cp.LastWatchedPosition.Float64(),
			Authoritative:       true,
		}
	}
	return result, nil
}

// CreateCheckoutSession checkout-session creation, returns the redirect URL
func (c *Client) CreateCheckoutSession(ctx context.Context, viewer domain.Viewer, courseID string) (string, error) {
	var res checkoutResponse
	if err := c.do(ctx, "CreateCheckoutSession", http.MethodPost, "/payments/checkout-session", viewer, &checkoutRequest{courseID}, &res); err != nil {
		return "", err
	}
	if res.URL == "" {
		return "", &APIError{Kind: KindServer, Status: http.StatusOK, Op: "CreateCheckoutSession", Message: "empty redirect url"}
	}
	return res.URL, nil
}

func progressPath(courseID, videoID string) string {
	return fmt.Sprintf("/courses/%s/videos/%s/progress", url.PathEscape(courseID), url.PathEscape(videoID))
}

func (p *progressDTO) toDomain(videoID string) *domain.Progress {
	id := p.VideoID
	if id == "" {
		id = videoID
	}
	return &domain.Progress{
		VideoID:              id,
		WatchedDuration:      p.WatchedDuration.Float64(),
		TotalDuration:        p.TotalDuration.Float64(),
		WatchedPercentage:    clampPercent(p.WatchedPercentage),
		CompletionPercentage: math.Max(0, math.Min(100, p.CompletionPercentage)),
		IsCompleted:          p.IsCompleted,
		LastPosition:         p.LastPosition.Float64(),
		UpdatedAt:            time.Now(),
	}
}

func clampPercent(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

func (c *Client) do(ctx context.Context, op, method, path string, viewer domain.Viewer, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if viewer.Authenticated() {
		req.Header.Set("Authorization", "Bearer "+viewer.Token)
	}

	startTime := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Backend request failed", zap.String("backend.op", op), zap.Error(err))
		return &APIError{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()
	c.logger.Debug("Backend request",
		zap.String("backend.op", op),
		zap.String("http.request.method", method),
		zap.String("url.path", path),
		zap.Int("http.response.status_code", resp.StatusCode),
		zap.Duration("backend.time", time.Since(startTime)),
	)

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Kind: KindNetwork, Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Detail
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Kind: kindFromStatus(resp.StatusCode), Status: resp.StatusCode, Op: op, Message: msg}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Kind: KindServer, Status: resp.StatusCode, Op: op, Message: "malformed response body", Err: err}
	}
	return nil
}
