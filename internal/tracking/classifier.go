package tracking

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/radiusdt/pulse/internal/models"
)

// DeviceClassifier derives device details from a User-Agent string.
type DeviceClassifier interface {
	Classify(userAgent string) DeviceInfo
}

// DeviceInfo holds device detection results. Empty fields mean unknown.
type DeviceInfo struct {
	DeviceType string // mobile, desktop, tablet
	Browser    string
	OS         string
}

// UAClassifier implements DeviceClassifier on top of mssola/useragent.
type UAClassifier struct{}

// NewUAClassifier creates a new User-Agent classifier.
func NewUAClassifier() *UAClassifier {
	return &UAClassifier{}
}

// Classify never fails: empty or unrecognised input yields empty fields.
func (c *UAClassifier) Classify(userAgent string) DeviceInfo {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return DeviceInfo{}
	}

	ua := useragent.New(userAgent)
	info := DeviceInfo{}

	if name, _ := ua.Browser(); name != "" {
		info.Browser = name
	}
	osName := ua.OSInfo().Name
	if osName == "" {
		osName = ua.OS()
	}
	info.OS = osName
	info.DeviceType = deviceType(ua, userAgent, osName)

	return info
}

func deviceType(ua *useragent.UserAgent, raw, osName string) string {
	lowerRaw := strings.ToLower(raw)
	lowerOS := strings.ToLower(osName)

	// Tablets
	if ua.Platform() == "iPad" || strings.Contains(lowerRaw, "ipad") {
		return models.DeviceTablet
	}
	if strings.Contains(lowerOS, "android") && !strings.Contains(lowerRaw, "mobile") {
		return models.DeviceTablet
	}

	if ua.Mobile() {
		return models.DeviceMobile
	}

	switch {
	case strings.Contains(lowerOS, "android"),
		strings.Contains(lowerOS, "ios"),
		strings.Contains(lowerOS, "iphone"):
		return models.DeviceMobile
	case strings.Contains(lowerOS, "windows"),
		strings.Contains(lowerOS, "mac os"),
		strings.Contains(lowerOS, "linux"),
		strings.Contains(lowerOS, "cros"),
		strings.Contains(lowerOS, "freebsd"):
		return models.DeviceDesktop
	}

	return ""
}
