package device

import (
	"regexp"
	"strings"
)

var (
	macVersionRe     = regexp.MustCompile(`mac os x (\d+)[._](\d+)`)
	androidVersionRe = regexp.MustCompile(`android ([\d.]+)`)
	iosVersionRe     = regexp.MustCompile(`os ([\d_]+)`)
)

var windowsVersions = []struct {
	marker string
	name   string
}{
	{"windows nt 10.0", "Windows 10"},
	{"windows 10", "Windows 10"},
	{"windows nt 6.3", "Windows 8.1"},
	{"windows nt 6.2", "Windows 8"},
	{"windows nt 6.1", "Windows 7"},
	{"windows nt 6.0", "Windows Vista"},
	{"windows nt 5.1", "Windows XP"},
}

var linuxDistros = []struct {
	marker string
	name   string
}{
	{"ubuntu", "Linux (Ubuntu)"},
	{"debian", "Linux (Debian)"},
	{"fedora", "Linux (Fedora)"},
	{"centos", "Linux (CentOS)"},
	{"redhat", "Linux (Red Hat)"},
	{"red hat", "Linux (Red Hat)"},
}

// DetectOS derives a display OS name from a user agent string.
func DetectOS(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return "Unknown"
	}

	if strings.Contains(ua, "windows") {
		for _, v := range windowsVersions {
			if strings.Contains(ua, v.marker) {
				return v.name
			}
		}
		return "Windows"
	}

	// iOS user agents also carry "mac os x".
	if strings.Contains(ua, "iphone os") || strings.Contains(ua, "ipad") {
		if m := iosVersionRe.FindStringSubmatch(ua); m != nil {
			return "iOS " + strings.ReplaceAll(m[1], "_", ".")
		}
		return "iOS"
	}

	if strings.Contains(ua, "mac os x") || strings.Contains(ua, "macos") {
		if m := macVersionRe.FindStringSubmatch(ua); m != nil {
			return "macOS " + m[1] + "." + m[2]
		}
		return "macOS"
	}

	// Android user agents also carry "linux".
	if strings.Contains(ua, "android") {
		if m := androidVersionRe.FindStringSubmatch(ua); m != nil {
			return "Android " + m[1]
		}
		return "Android"
	}

	if strings.Contains(ua, "linux") {
		for _, d := range linuxDistros {
			if strings.Contains(ua, d.marker) {
				return d.name
			}
		}
		return "Linux"
	}

	return "Unknown"
}
