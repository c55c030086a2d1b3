// Package listing extracts entries from the directory index pages served by
// downloads.openwrt.org.
package listing

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// nameCellSelector matches the anchor inside the "n" (name) column of the index table.
const nameCellSelector = "table tr td.n a"

// ParseDirectoryNames returns the child directory names of an index page in
// document order. Files and the parent/self links are skipped. A page without
// an index table yields an empty slice.
func ParseDirectoryNames(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return []string{}
	}
	names := []string{}
	doc.Find(nameCellSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || !strings.HasSuffix(href, "/") {
			return
		}
		name := strings.TrimSuffix(href, "/")
		if name == "" || name == "." || name == ".." {
			return
		}
		names = append(names, name)
	})
	return names
}
