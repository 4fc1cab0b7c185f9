package model

import (
	"testing"
	"time"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in   string
		want Filter
		ok   bool
	}{
		{"all", FilterAll, true},
		{"", FilterAll, true},
		{"Images", FilterImages, true},
		{"video", FilterVideos, true},
		{"audio", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFilter(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseFilter(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFilterMatch(t *testing.T) {
	img := Asset{MediaType: MediaImage}
	vid := Asset{MediaType: MediaVideo}
	other := Asset{MediaType: MediaOther}

	if !FilterAll.Match(other) {
		t.Error("all should match other")
	}
	if !FilterImages.Match(img) || FilterImages.Match(vid) || FilterImages.Match(other) {
		t.Error("images filter matched wrong set")
	}
	if !FilterVideos.Match(vid) || FilterVideos.Match(img) {
		t.Error("videos filter matched wrong set")
	}
}

func TestFormattedSize(t *testing.T) {
	if got := (Asset{}).FormattedSize(); got != "Unknown" {
		t.Errorf("zero size = %q, want Unknown", got)
	}
	if got := (Asset{SizeBytes: 1500}).FormattedSize(); got != "1.5 kB" {
		t.Errorf("1500 bytes = %q, want 1.5 kB", got)
	}
}

func TestFormattedDate(t *testing.T) {
	a := Asset{CreatedAt: time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)}
	if got := a.FormattedDate(); got != "2024-03-09 14:05 UTC" {
		t.Errorf("FormattedDate = %q", got)
	}
	if got := (Asset{}).FormattedDate(); got != "" {
		t.Errorf("zero date = %q, want empty", got)
	}
}

func TestMediaTypeFromFilename(t *testing.T) {
	tests := map[string]MediaType{
		"x.jpg":          MediaImage,
		"X.JPEG":         MediaImage,
		"clip.webm":      MediaVideo,
		"movie.MKV":      MediaVideo,
		"notes.txt":      MediaOther,
		"noext":          MediaOther,
		"dir/pic.v1.png": MediaImage,
	}
	for name, want := range tests {
		if got := MediaTypeFromFilename(name); got != want {
			t.Errorf("MediaTypeFromFilename(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestParseMediaType(t *testing.T) {
	tests := []struct {
		in   string
		want MediaType
		ok   bool
	}{
		{"image", MediaImage, true},
		{"video/mp4", MediaVideo, true},
		{"IMAGE/PNG", MediaImage, true},
		{"application/pdf", MediaOther, false},
		{"", MediaOther, false},
	}
	for _, tt := range tests {
		got, ok := ParseMediaType(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseMediaType(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
