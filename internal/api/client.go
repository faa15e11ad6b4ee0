package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clipstitch/internal/services"
	"clipstitch/internal/tracks"
	"clipstitch/internal/workflow"
)

// ErrAPIUnavailable reports a client without a configured address.
var ErrAPIUnavailable = errors.New("api address not configured")

// Client talks to a running clipstitchd.
type Client struct {
	base *url.URL
	http *http.Client
}

// StatusError is a non-2xx response. It unwraps to the service marker that
// matches the status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Code)
	}
	return fmt.Sprintf("api returned status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusBadRequest:
		return services.ErrValidation
	case http.StatusNotFound:
		return services.ErrNotFound
	case http.StatusConflict:
		return services.ErrConflict
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return services.ErrTransient
	default:
		return nil
	}
}

// NewClient returns a client for bind, which may omit the scheme.
func NewClient(bind string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{base: base, http: &http.Client{Timeout: 15 * time.Second}}, nil
}

// Submit posts a raw clip event.
func (c *Client) Submit(ctx context.Context, event []byte) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/clips", bytes.NewReader(event), &out)
	return out, err
}

// Clip returns a clip's status and history.
func (c *Client) Clip(ctx context.Context, clipID string) (ClipStatus, error) {
	var out ClipStatus
	err := c.do(ctx, http.MethodGet, "/api/clips/"+clipID, nil, &out)
	return out, err
}

// History returns a clip's status history.
func (c *Client) History(ctx context.Context, clipID string) (HistoryResponse, error) {
	var out HistoryResponse
	err := c.do(ctx, http.MethodGet, "/api/clips/"+clipID+"/history", nil, &out)
	return out, err
}

// SegmentHistory returns one segment's status history.
func (c *Client) SegmentHistory(ctx context.Context, clipID string, index int) (HistoryResponse, error) {
	var out HistoryResponse
	err := c.do(ctx, http.MethodGet, "/api/clips/"+clipID+"/segments/"+strconv.Itoa(index), nil, &out)
	return out, err
}

// Clips lists submitted clip IDs.
func (c *Client) Clips(ctx context.Context) ([]string, error) {
	var out ClipListResponse
	err := c.do(ctx, http.MethodGet, "/api/clips", nil, &out)
	return out.Clips, err
}

// RegisterTrack registers a track for its episode.
func (c *Client) RegisterTrack(ctx context.Context, track tracks.Track) error {
	body, err := json.Marshal(track)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/episodes/"+track.EpisodeID+"/tracks", bytes.NewReader(body), nil)
}

// Tracks lists an episode's tracks.
func (c *Client) Tracks(ctx context.Context, episodeID string) ([]tracks.Track, error) {
	var out TrackListResponse
	err := c.do(ctx, http.MethodGet, "/api/episodes/"+episodeID+"/tracks", nil, &out)
	return out.Tracks, err
}

// Status returns the scheduler summary.
func (c *Client) Status(ctx context.Context) (workflow.Summary, error) {
	var out workflow.Summary
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var payload ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
		return &StatusError{Code: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
