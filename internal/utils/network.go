package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetRealIP extracts the client IP for audit records.
//
// Priority order:
// 1. X-Real-IP header when it carries a public address
// 2. First public address in X-Forwarded-For
// 3. Gin's ClientIP() for direct connections
func GetRealIP(c *gin.Context) string {
	realIP := strings.TrimSpace(c.Request.Header.Get("X-Real-IP"))
	if ip := net.ParseIP(realIP); ip != nil && !isPrivateIP(ip) {
		return realIP
	}

	// Format: X-Forwarded-For: client, proxy1, proxy2
	if forwarded := c.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := ""
		for _, part := range strings.Split(forwarded, ",") {
			candidate := strings.TrimSpace(part)
			ip := net.ParseIP(candidate)
			if ip == nil {
				continue
			}
			if first == "" {
				first = candidate
			}
			if !isPrivateIP(ip) {
				return candidate
			}
		}
		if first != "" {
			return first
		}
	}

	return c.ClientIP()
}

// GetUserAgent extracts the User-Agent header from the request
func GetUserAgent(c *gin.Context) string {
	ua := c.Request.UserAgent()
	if ua == "" {
		return "Unknown"
	}
	return ua
}

// isPrivateIP reports loopback and RFC 1918 / RFC 4193 addresses
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
