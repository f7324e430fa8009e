package utils

import (
	"net"
	"net/http"
	"strings"
)

// ExtractIP extracts the client IP address from the request.
// When trustProxy is set, X-Forwarded-For and X-Real-IP win over RemoteAddr.
func ExtractIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// X-Forwarded-For can contain multiple IPs, take the first one
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			ips := strings.Split(forwarded, ",")
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}
	return RemoteHost(r)
}

// RemoteHost returns the host part of the TCP peer address.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsLoopbackRequest reports whether the TCP peer is a loopback address.
// Forwarding headers are ignored on purpose: they are client controlled.
func IsLoopbackRequest(r *http.Request) bool {
	ip := net.ParseIP(RemoteHost(r))
	return ip != nil && ip.IsLoopback()
}

// ParseQRFlag interprets the qr query parameter. Only "1" and "true" count.
func ParseQRFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true":
		return true
	}
	return false
}
