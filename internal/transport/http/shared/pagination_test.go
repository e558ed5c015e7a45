package shared

import (
	"net/http/httptest"
	"testing"
)

func TestParsePage(t *testing.T) {
	cases := []struct {
		name       string
		url        string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "/audit/events", 50, 0},
		{"explicit", "/audit/events?limit=10&offset=30", 10, 30},
		{"clamped to max", "/audit/events?limit=9999", 500, 0},
		{"malformed limit", "/audit/events?limit=ten", 50, 0},
		{"negative offset ignored", "/audit/events?offset=-5", 50, 0},
		{"zero limit ignored", "/audit/events?limit=0", 50, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tc.url, nil)
			page := ParsePage(r, 50, 500)
			if page.Limit != tc.wantLimit || page.Offset != tc.wantOffset {
				t.Fatalf("expected limit %d offset %d, got %+v", tc.wantLimit, tc.wantOffset, page)
			}
		})
	}
}
