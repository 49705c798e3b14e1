// Package resolve turns user-supplied stream references (Kick channel or VOD
// pages, direct media URLs, local files) into something ffmpeg can open.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const DefaultAPIBase = "https://kick.com/api/v2"

var (
	ErrNotLive        = errors.New("channel is not live")
	ErrUnresolvable   = errors.New("could not resolve source")
	ErrNoPlaybackURL  = errors.New("no playback url in response")
	directMediaSuffix = []string{".m3u8", ".mp4", ".mkv", ".ts", ".flv", ".webm", ".mov"}

	videoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`kick\.com/video/([a-fA-F0-9\-]+)`),
		regexp.MustCompile(`kick\.com/[^/?#]+/videos/([a-fA-F0-9\-]+)`),
		regexp.MustCompile(`kick\.com/[^?#]*\?(?:.*&)?video=([a-fA-F0-9\-]+)`),
	}
	channelPattern      = regexp.MustCompile(`kick\.com/([^/?#]+)/?(?:[?#]|$)`)
	videoChannelPattern = regexp.MustCompile(`kick\.com/([^/?#]+)/videos/`)
)

// Kind classifies a resolved source.
type Kind string

const (
	KindLocal  Kind = "local"
	KindDirect Kind = "direct"
	KindVOD    Kind = "vod"
	KindLive   Kind = "live"
)

// Source is a resolved stream reference.
type Source struct {
	Input   string `json:"input"`
	URL     string `json:"url"`
	Kind    Kind   `json:"kind"`
	VideoID string `json:"video_id,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// StreamMetadata describes a live channel.
type StreamMetadata struct {
	Channel   string `json:"channel"`
	Title     string `json:"title"`
	Category  string `json:"category"`
	Viewers   int    `json:"viewers"`
	IsLive    bool   `json:"is_live"`
	StartedAt string `json:"started_at,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

type fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Resolver maps Kick page URLs to playable media URLs via the Kick API.
type Resolver struct {
	apiBase string
	client  fetcher
	logger  *slog.Logger
}

// NewResolver creates a Resolver against apiBase (DefaultAPIBase when empty).
func NewResolver(apiBase string, client *Client, logger *slog.Logger) *Resolver {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Resolver{apiBase: strings.TrimRight(apiBase, "/"), client: client, logger: logger}
}

// Resolve returns a URL or path ffmpeg can read.
func (r *Resolver) Resolve(ctx context.Context, input string) (string, error) {
	src, err := r.ResolveSource(ctx, input)
	if err != nil {
		return "", err
	}
	return src.URL, nil
}

// ResolveSource is Resolve with classification details.
func (r *Resolver) ResolveSource(ctx context.Context, input string) (*Source, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: empty input", ErrUnresolvable)
	}

	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" || u.Scheme == "file" {
		p := input
		if err == nil && u.Scheme == "file" {
			p = u.Path
		}
		return &Source{Input: input, URL: p, Kind: KindLocal}, nil
	}

	if isDirectMedia(u) {
		return &Source{Input: input, URL: input, Kind: KindDirect}, nil
	}

	if !isKickHost(u.Host) {
		return nil, fmt.Errorf("%w: unsupported host %q", ErrUnresolvable, u.Host)
	}

	if id := ExtractVideoID(input); id != "" {
		playback, err := r.vodURL(ctx, id)
		if err != nil {
			return nil, err
		}
		r.log("resolved vod", "video_id", id)
		return &Source{Input: input, URL: playback, Kind: KindVOD, VideoID: id, Channel: ExtractChannel(input)}, nil
	}

	channel := ExtractChannel(input)
	if channel == "" {
		return nil, fmt.Errorf("%w: no channel or video id in %q", ErrUnresolvable, input)
	}
	info, err := r.channelInfo(ctx, channel)
	if err != nil {
		return nil, err
	}
	if info.Livestream == nil || info.PlaybackURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotLive, channel)
	}
	r.log("resolved livestream", "channel", channel)
	return &Source{Input: input, URL: info.PlaybackURL, Kind: KindLive, Channel: channel}, nil
}

// Metadata returns the current livestream details for channel.
func (r *Resolver) Metadata(ctx context.Context, channel string) (*StreamMetadata, error) {
	info, err := r.channelInfo(ctx, channel)
	if err != nil {
		return nil, err
	}
	md := &StreamMetadata{Channel: channel, Title: "Unknown", Category: "Unknown"}
	if ls := info.Livestream; ls != nil {
		if ls.SessionTitle != "" {
			md.Title = ls.SessionTitle
		}
		if len(ls.Categories) > 0 && ls.Categories[0].Name != "" {
			md.Category = ls.Categories[0].Name
		}
		md.Viewers = ls.Viewers
		md.IsLive = ls.IsLive
		md.StartedAt = ls.CreatedAt
		md.Thumbnail = ls.Thumbnail.URL
	}
	return md, nil
}

type videoResponse struct {
	Source string `json:"source"`
}

type channelResponse struct {
	Slug        string      `json:"slug"`
	PlaybackURL string      `json:"playback_url"`
	Livestream  *livestream `json:"livestream"`
}

type livestream struct {
	SessionTitle string `json:"session_title"`
	IsLive       bool   `json:"is_live"`
	Viewers      int    `json:"viewer_count"`
	CreatedAt    string `json:"created_at"`
	Categories   []struct {
		Name string `json:"name"`
	} `json:"categories"`
	Thumbnail struct {
		URL string `json:"url"`
	} `json:"thumbnail"`
	PlaybackURL string `json:"playback_url"`
}

func (r *Resolver) vodURL(ctx context.Context, id string) (string, error) {
	body, err := r.client.Get(ctx, r.apiBase+"/videos/"+url.PathEscape(id))
	if err != nil {
		return "", fmt.Errorf("failed to fetch video %s: %w", id, err)
	}
	var v videoResponse
	if err := json.Unmarshal(body, &v); err != nil {
		return "", fmt.Errorf("failed to parse video response: %w", err)
	}
	if v.Source == "" {
		return "", fmt.Errorf("video %s: %w", id, ErrNoPlaybackURL)
	}
	return v.Source, nil
}

func (r *Resolver) channelInfo(ctx context.Context, channel string) (*channelResponse, error) {
	body, err := r.client.Get(ctx, r.apiBase+"/channels/"+url.PathEscape(channel))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel %s: %w", channel, err)
	}
	var c channelResponse
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("failed to parse channel response: %w", err)
	}
	// v2 puts playback_url at the top level, older payloads nest it.
	if c.PlaybackURL == "" && c.Livestream != nil {
		c.PlaybackURL = c.Livestream.PlaybackURL
	}
	return &c, nil
}

func (r *Resolver) log(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

// ExtractVideoID returns the VOD id in a Kick URL, or "".
func ExtractVideoID(raw string) string {
	for _, re := range videoPatterns {
		if m := re.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	}
	return ""
}

// ExtractChannel returns the channel slug in a Kick URL, or "".
func ExtractChannel(raw string) string {
	if m := videoChannelPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	m := channelPattern.FindStringSubmatch(raw)
	if m == nil || m[1] == "video" {
		return ""
	}
	return m[1]
}

func isKickHost(host string) bool {
	host = strings.ToLower(host)
	return host == "kick.com" || strings.HasSuffix(host, ".kick.com")
}

func isDirectMedia(u *url.URL) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	for _, s := range directMediaSuffix {
		if ext == s {
			return true
		}
	}
	return false
}
