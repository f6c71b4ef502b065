package cache

import (
	"regexp"
	"strings"
)

var (
	versionSuffixRe = regexp.MustCompile(`v\d+$`)
	urlIDRe         = regexp.MustCompile(`arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{4,5}(?:v\d+)?)`)
)

// NormalizeID canonicalizes an arXiv identifier for use as a cache key.
// arxiv.org URLs are unwrapped to the bare ID and a trailing version marker
// is stripped, so "1706.03762v2" and "https://arxiv.org/abs/1706.03762"
// both normalize to "1706.03762". Normalization is idempotent.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if m := urlIDRe.FindStringSubmatch(id); m != nil {
		id = m[1]
	}
	id = strings.TrimSuffix(id, ".pdf")
	return versionSuffixRe.ReplaceAllString(id, "")
}
