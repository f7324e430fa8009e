package utils

import (
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"link-redirect-service/models"
)

// MaxURLLength bounds destination URLs accepted at write time.
const MaxURLLength = 2048

// Ports of internal datastores that destinations may not point at.
var blockedPorts = map[int]bool{
	6379:  true, // redis
	5432:  true, // postgres
	3306:  true, // mysql
	27017: true, // mongodb
	9200:  true, // elasticsearch
	11211: true, // memcached
	2379:  true, // etcd
	5984:  true, // couchdb
	9042:  true, // cassandra
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// ValidateDestination rejects URLs that would turn the redirector into a way
// into internal infrastructure. The check is lexical; no DNS lookups happen.
func ValidateDestination(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return unsafe("url is required")
	}
	if len(raw) > MaxURLLength {
		return unsafe("url exceeds 2048 characters")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return unsafe("url is not parseable")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return unsafe("only http and https urls are allowed")
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return unsafe("url has no host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return unsafe("destination host is not allowed")
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return unsafe("destination address is not allowed")
		}
	} else if isNumericHost(host) {
		// 2130706433, 0x7f.1 and 0177.0.0.1 resolve to IPs in browsers
		return unsafe("numeric host is not allowed")
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return unsafe("url has an invalid port")
		}
		if blockedPorts[port] {
			return unsafe("destination port is not allowed")
		}
	}

	return nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// isNumericHost reports whether browsers would read host as an IPv4 address
// in shorthand form: one to four dot-separated labels, each decimal, octal
// (leading 0) or 0x hex. Names with any other label are ordinary domains.
func isNumericHost(host string) bool {
	labels := strings.Split(host, ".")
	if len(labels) > 4 {
		return false
	}
	for _, label := range labels {
		if !isNumericLabel(label) {
			return false
		}
	}
	return true
}

func isNumericLabel(label string) bool {
	if label == "" {
		return false
	}
	digits := "0123456789"
	if strings.HasPrefix(label, "0x") {
		label = label[2:]
		digits = "0123456789abcdef"
	}
	for _, c := range label {
		if !strings.ContainsRune(digits, c) {
			return false
		}
	}
	return true
}

func unsafe(msg string) error {
	return &models.ValidationError{Field: "original_url", Message: msg}
}
