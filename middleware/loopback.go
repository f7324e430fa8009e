package middleware

import (
	"fmt"
	"net/http"

	"link-redirect-service/utils"
)

// LoopbackOnly rejects requests whose TCP peer is not a loopback address.
func LoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !utils.IsLoopbackRequest(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":"Forbidden"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}
