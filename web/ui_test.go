package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestFormatTimeAgo(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		time     time.Time
		expected string
	}{
		{"just now", now.Add(-30 * time.Second), "just now"},
		{"1 minute ago", now.Add(-1 * time.Minute), "1 minute ago"},
		{"59 minutes", now.Add(-59 * time.Minute), "59 minutes ago"},
		{"1 hour ago", now.Add(-1 * time.Hour), "1 hour ago"},
		{"23 hours", now.Add(-23 * time.Hour), "23 hours ago"},
		{"1 day ago", now.Add(-24 * time.Hour), "1 day ago"},
		{"2 days", now.Add(-48 * time.Hour), "2 days ago"},
		{"7 days ago", now.Add(-7 * 24 * time.Hour), "7 days ago"},
		{"old date", time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC), "Jan 15, 2024"},
		{"future", now.Add(time.Hour), "just now"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := formatTimeAgo(tt.time, now); result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestPageNumber(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		query    string
		wantPage int
	}{
		{"", 1},
		{"?page=1", 1},
		{"?page=5", 5},
		{"?page=0", 1},
		{"?page=-1", 1},
		{"?page=abc", 1},
	}

	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/u/alice"+tt.query, nil)
		if got := pageNumber(c); got != tt.wantPage {
			t.Errorf("pageNumber(%q) = %d, want %d", tt.query, got, tt.wantPage)
		}
	}
}
