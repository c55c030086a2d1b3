package kernel

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DocumentExtractor walks the anchors of a parsed HTML listing. It is slower
// than RegexExtractor but tolerates markup changes that break raw text scanning.
type DocumentExtractor struct{}

// NewDocumentExtractor returns the HTML-parsing extractor.
func NewDocumentExtractor() *DocumentExtractor {
	return &DocumentExtractor{}
}

// Extract implements Extractor.
func (*DocumentExtractor) Extract(page string) Info {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return Info{}
	}
	var candidates []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		if strings.HasPrefix(href, "kernel_") {
			candidates = append(candidates, href)
		}
	})
	return firstMatch(candidates)
}
