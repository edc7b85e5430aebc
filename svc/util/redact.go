package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
)

func RedactIP(ip string) string {
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		hash := sha256.Sum256([]byte(ip))
		return "hash:" + hex.EncodeToString(hash[:8])
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	ipv6 := parsed.To16()
	for i := 4; i < 16; i++ {
		ipv6[i] = 0
	}
	return ipv6.String()
}

// RedactFilename keeps enough of a user supplied filename to correlate log
// lines without writing arbitrary client text into them.
func RedactFilename(name string) string {
	if name == "" {
		return ""
	}
	if len(name) <= 12 {
		return name
	}
	return name[:6] + "..." + name[len(name)-4:]
}
