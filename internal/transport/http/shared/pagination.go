package shared

import (
	"net/http"
	"strconv"
)

// Page is the limit/offset window a list endpoint was asked for.
type Page struct {
	Limit  int
	Offset int
}

// ParsePage reads the limit and offset query parameters. Malformed or
// out-of-range values fall back to defaultLimit and zero offset; limit
// is clamped to maxLimit when one is set.
func ParsePage(r *http.Request, defaultLimit, maxLimit int) Page {
	p := Page{Limit: defaultLimit}
	if v, ok := queryInt(r, "limit"); ok && v > 0 {
		p.Limit = v
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if v, ok := queryInt(r, "offset"); ok && v >= 0 {
		p.Offset = v
	}
	return p
}

func queryInt(r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
