package api

import "strings"

// platform hosts serve summoner-v4; regional routes serve account-v1 and match-v5.
var platformRoutes = map[string]string{
	"na1":  "americas",
	"br1":  "americas",
	"la1":  "americas",
	"la2":  "americas",
	"euw1": "europe",
	"eun1": "europe",
	"tr1":  "europe",
	"ru":   "europe",
	"kr":   "asia",
	"jp1":  "asia",
	"oc1":  "sea",
	"sg2":  "sea",
	"tw2":  "sea",
	"vn2":  "sea",
}

var defaultTags = map[string]string{
	"na1":  "NA1",
	"br1":  "BR1",
	"la1":  "LAN",
	"la2":  "LAS",
	"euw1": "EUW",
	"eun1": "EUNE",
	"tr1":  "TR1",
	"ru":   "RU1",
	"kr":   "KR1",
	"jp1":  "JP1",
	"oc1":  "OCE",
	"sg2":  "SG2",
	"tw2":  "TW2",
	"vn2":  "VN2",
}

// NormalizeRegion lowercases a platform id and reports whether it is supported.
func NormalizeRegion(region string) (string, bool) {
	r := strings.ToLower(strings.TrimSpace(region))
	_, ok := platformRoutes[r]
	return r, ok
}

// RegionalRoute returns the match-v5 routing cluster for a platform.
func RegionalRoute(platform string) string {
	return platformRoutes[platform]
}

// account-v1 is not served from sea.
func accountRoute(platform string) string {
	route := platformRoutes[platform]
	if route == "sea" {
		return "asia"
	}
	return route
}

func DefaultTag(platform string) string {
	if tag, ok := defaultTags[platform]; ok {
		return tag
	}
	return "NA1"
}

// ParseHandle splits "Name#TAG". A missing tag falls back to the platform default. ok is false when
// the name is empty or the handle has more than one separator.
func ParseHandle(handle, platform string) (gameName, tagLine string, ok bool) {
	handle = strings.TrimSpace(handle)
	parts := strings.Split(handle, "#")
	switch len(parts) {
	case 1:
		gameName, tagLine = parts[0], DefaultTag(platform)
	case 2:
		gameName, tagLine = strings.TrimSpace(parts[0]), strings.ToUpper(strings.TrimSpace(parts[1]))
	default:
		return "", "", false
	}
	if gameName == "" || tagLine == "" {
		return "", "", false
	}
	return gameName, tagLine, true
}
