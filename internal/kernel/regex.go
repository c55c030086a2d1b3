package kernel

import "regexp"

// candidatePattern finds filename-like tokens beginning with "kernel_". The
// leading group keeps names such as "xkernel_" out.
var candidatePattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9_.~+-])(kernel_[A-Za-z0-9_.~+-]+)`)

// RegexExtractor scans the raw page text without building a DOM. Listings of
// the larger targets run to several thousand rows, where this is considerably
// faster than DocumentExtractor.
type RegexExtractor struct{}

// NewRegexExtractor returns the fast-path extractor.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// Extract implements Extractor.
func (*RegexExtractor) Extract(page string) Info {
	matches := candidatePattern.FindAllStringSubmatch(page, -1)
	candidates := make([]string, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, m[1])
	}
	return firstMatch(candidates)
}
