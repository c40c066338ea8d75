package ws

import (
	"net/http"
	"strings"
)

// OriginChecker returns a CheckOrigin func for websocket.Upgrader that
// accepts requests without an Origin header and those whose Origin is in
// allowed. An empty list falls back to http://localhost:3000.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		allowed = []string{"http://localhost:3000"}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(origin, strings.TrimSpace(a)) {
				return true
			}
		}
		return false
	}
}
