package model

import (
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaOther MediaType = "other"
)

var extMediaTypes = map[string]MediaType{
	"jpg": MediaImage, "jpeg": MediaImage, "png": MediaImage,
	"gif": MediaImage, "webp": MediaImage, "bmp": MediaImage,
	"mp4": MediaVideo, "avi": MediaVideo, "mov": MediaVideo,
	"webm": MediaVideo, "mkv": MediaVideo,
}

// MediaTypeFromFilename classifies by extension, case-insensitively.
func MediaTypeFromFilename(name string) MediaType {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if mt, ok := extMediaTypes[ext]; ok {
		return mt
	}
	return MediaOther
}

// ParseMediaType understands bare type names and MIME types. The second
// result is false when s carries no usable hint.
func ParseMediaType(s string) (MediaType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "image" || s == "images" || strings.HasPrefix(s, "image/"):
		return MediaImage, true
	case s == "video" || s == "videos" || strings.HasPrefix(s, "video/"):
		return MediaVideo, true
	}
	return MediaOther, false
}

type Filter string

const (
	FilterAll    Filter = "all"
	FilterImages Filter = "images"
	FilterVideos Filter = "videos"
)

// ParseFilter accepts the filter names plus their singular forms.
func ParseFilter(s string) (Filter, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FilterAll, true
	case "images", "image":
		return FilterImages, true
	case "videos", "video":
		return FilterVideos, true
	}
	return "", false
}

// Match reports whether a belongs in the filtered view.
func (f Filter) Match(a Asset) bool {
	switch f {
	case FilterImages:
		return a.MediaType == MediaImage
	case FilterVideos:
		return a.MediaType == MediaVideo
	default:
		return true
	}
}

type Asset struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	MediaType    MediaType `json:"media_type"`
	MimeType     string    `json:"mime_type,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	ThumbnailRef string    `json:"thumbnail_ref"`
	ViewRef      string    `json:"view_ref"`
	DownloadRef  string    `json:"download_ref"`
}

func (a Asset) FormattedSize() string {
	if a.SizeBytes <= 0 {
		return "Unknown"
	}
	return humanize.Bytes(uint64(a.SizeBytes))
}

func (a Asset) FormattedDate() string {
	if a.CreatedAt.IsZero() {
		return ""
	}
	return a.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")
}

type Counts struct {
	All    int `json:"all"`
	Images int `json:"images"`
	Videos int `json:"videos"`
}

type SelectionSummary struct {
	Count              int  `json:"count"`
	AllVisibleSelected bool `json:"all_visible_selected"`
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Empty distinguishes "nothing downloaded yet" from "nothing matches the filter".
type Empty string

const (
	EmptyNone       Empty = "none"
	EmptyCollection Empty = "collection"
	EmptyFiltered   Empty = "filtered"
)

// Snapshot is an immutable copy of the library view state.
type Snapshot struct {
	Assets      []Asset          `json:"assets"`
	Visible     []Asset          `json:"visible"`
	Filter      Filter           `json:"filter"`
	Page        int              `json:"page"`
	PageSize    int              `json:"page_size"`
	TotalPages  int              `json:"total_pages"`
	Counts      Counts           `json:"counts"`
	Selection   SelectionSummary `json:"selection"`
	SelectedIDs []string         `json:"selected_ids"`
	Status      Status           `json:"status"`
	Empty       Empty            `json:"empty"`
	Error       string           `json:"error,omitempty"`
	Version     uint64           `json:"version"`
	RefreshedAt *time.Time       `json:"refreshed_at,omitempty"`
}

type SizeStats struct {
	TotalBytes  int64   `json:"total_bytes"`
	MeanBytes   float64 `json:"mean_bytes"`
	MedianBytes float64 `json:"median_bytes"`
	Known       int     `json:"known"`
}

type Download struct {
	ID        string
	AssetID   string
	Filename  string
	Path      string
	SizeBytes int64
	SHA256    string
	Source    string
	CreatedAt time.Time
}

type LocalAsset struct {
	ID        string
	Filename  string
	MediaType string
	MimeType  string
	SizeBytes int64
	Source    string
	Path      string
	CreatedAt time.Time
}

// Webhook delivery states.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliveryExhausted = "exhausted"
)

type WebhookDelivery struct {
	ID                  string
	URL                 string
	EventType           string
	EventID             string
	PayloadJSON         string
	AttemptNumber       int
	ResponseStatus      *int
	ResponseBodyPreview string
	ErrorMessage        string
	State               string
	NextRetryAt         *time.Time
	DeliveredAt         *time.Time
	CreatedAt           time.Time
}
