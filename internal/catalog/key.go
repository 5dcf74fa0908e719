package catalog

import "strings"

const (
	SuffixImperforate = "_imperf"
	SuffixReissue     = "_rev"
)

var (
	imperforateMarkers = []string{"无齿", "無齒"}
	reissueMarkers     = []string{"再版", "改版", "修订版"}
)

// MakeKey строит ключ позиции: идентификатор плюс суффиксы вариантов.
// Суффикс беззубцовой марки всегда идёт первым.
func MakeKey(identifier, title string) string {
	key := identifier
	if containsAny(title, imperforateMarkers) {
		key += SuffixImperforate
	}
	if containsAny(title, reissueMarkers) {
		key += SuffixReissue
	}
	return key
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
