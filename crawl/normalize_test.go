package crawl

import (
	"errors"
	"testing"

	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
)

func TestNormalizeSourceURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"HTTPS://Example.COM/Booths/", "https://example.com/Booths"},
		{"https://example.com/list#top", "https://example.com/list"},
		{"https://example.com/?page=2&city=berlin", "https://example.com?city=berlin&page=2"},
		{"http://example.com/a", "http://example.com/a"},
		{"  https://example.com/a  ", "https://example.com/a"},
	}
	for _, tt := range tests {
		got, err := NormalizeSourceURL(tt.in)
		if err != nil {
			t.Errorf("NormalizeSourceURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeSourceURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "example.com", "ftp://example.com", "https://", "https://user:pw@example.com"} {
		if _, err := NormalizeSourceURL(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("NormalizeSourceURL(%q) err = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestValidateSource(t *testing.T) {
	valid := func() *store.Source {
		return &store.Source{ID: "photoautomat", Name: "Photoautomat", URLs: []string{"https://a.example/x/", "https://A.example/x"}}
	}

	s := valid()
	if err := validateSource(s); err != nil {
		t.Fatal(err)
	}
	if len(s.URLs) != 1 || s.Strategy != "generic" || s.FetchMode != "scrape" {
		t.Errorf("normalized = %+v", s)
	}

	tests := []struct {
		name   string
		mutate func(*store.Source)
	}{
		{"missing id", func(s *store.Source) { s.ID = "" }},
		{"bad id", func(s *store.Source) { s.ID = "Has Spaces" }},
		{"missing name", func(s *store.Source) { s.Name = "" }},
		{"no urls", func(s *store.Source) { s.URLs = nil }},
		{"bad url", func(s *store.Source) { s.URLs = []string{"javascript:alert(1)"} }},
		{"strategy", func(s *store.Source) { s.Strategy = "telepathy" }},
		{"fetch mode", func(s *store.Source) { s.FetchMode = "carrier-pigeon" }},
		{"cadence", func(s *store.Source) { s.CadenceMs = 1000 }},
		{"page limit", func(s *store.Source) { s.PageLimit = -1 }},
		{"priority", func(s *store.Source) { s.Priority = 5000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			if err := validateSource(s); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("got %v, want ErrInvalidInput", err)
			}
		})
	}
}
