package parsers

import (
	"net"
	"net/url"
	"strings"
)

// ParsedURL is the structural breakdown of a URL argument.
type ParsedURL struct {
	Raw          string
	Scheme       string
	Host         string
	Port         string
	IsLiteralIP  bool
	IsPrivateIP  bool // RFC1918 / loopback / link-local, determinable without DNS
	IsLocalhost  bool
	Valid        bool
}

var privateV4Blocks = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
}

// ParseURL parses raw without performing any network I/O (no DNS
// resolution) and classifies host-shaped indicators a validator can act
// on pre-flight.
func ParseURL(raw string) ParsedURL {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ParsedURL{Raw: raw, Valid: false}
	}

	host := u.Hostname()
	port := u.Port()
	ip := net.ParseIP(host)
	isLiteral := ip != nil

	isLocalhost := strings.EqualFold(host, "localhost") || (isLiteral && ip.IsLoopback())
	isPrivate := isLocalhost
	if isLiteral {
		for _, cidr := range privateV4Blocks {
			_, block, err := net.ParseCIDR(cidr)
			if err == nil && block.Contains(ip) {
				isPrivate = true
				break
			}
		}
		if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			isPrivate = true
		}
	}

	return ParsedURL{
		Raw:         raw,
		Scheme:      u.Scheme,
		Host:        host,
		Port:        port,
		IsLiteralIP: isLiteral,
		IsPrivateIP: isPrivate,
		IsLocalhost: isLocalhost,
		Valid:       true,
	}
}
