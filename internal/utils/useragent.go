package utils

import (
	"fmt"
	"strings"

	ua "github.com/mssola/user_agent"
)

// DeviceInfo holds parsed information from a User-Agent string
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop, bot
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	BrowserVer string `json:"browser_ver"`
	IsBot      bool   `json:"is_bot"`
}

// ParseUserAgent parses a User-Agent string and extracts device information
func ParseUserAgent(userAgent string) DeviceInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return DeviceInfo{DeviceType: "unknown", OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)
	name, version := parser.Browser()

	info := DeviceInfo{
		OS:         getOS(parser),
		Browser:    orUnknown(name),
		BrowserVer: version,
		IsBot:      parser.Bot(),
	}

	switch {
	case info.IsBot:
		info.DeviceType = "bot"
	case parser.Mobile() && isTablet(userAgent):
		info.DeviceType = "tablet"
	case parser.Mobile():
		info.DeviceType = "mobile"
	default:
		info.DeviceType = "desktop"
	}

	return info
}

// Summary renders the device as "Chrome 120.0 on Android 14 (mobile)"
func (d DeviceInfo) Summary() string {
	browser := d.Browser
	if d.BrowserVer != "" {
		browser += " " + d.BrowserVer
	}
	return fmt.Sprintf("%s on %s (%s)", browser, d.OS, d.DeviceType)
}

func isTablet(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	for _, indicator := range []string{"ipad", "tablet", "kindle", "playbook", "sm-t"} {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

func getOS(parser *ua.UserAgent) string {
	osInfo := parser.OSInfo()
	if osInfo.Name == "" {
		return "Unknown"
	}
	if osInfo.Version != "" {
		return osInfo.Name + " " + osInfo.Version
	}
	return osInfo.Name
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
