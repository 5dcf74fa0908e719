package catalog

import "unicode/utf8"

var seriesMarkers = map[rune]Category{
	'J': CategoryJ,
	'T': CategoryT,
	'纪': CategoryCommemorative,
	'特': CategorySpecial,
	'文': CategoryLiterary,
	'编': CategoryNumbered,
	'普': CategoryOther,
	'贺': CategoryOther,
	'S':  CategoryOther,
}

// Classify определяет серию по первому символу идентификатора
func Classify(identifier string) Category {
	r, size := utf8.DecodeRuneInString(identifier)
	if size == 0 || r == utf8.RuneError {
		return CategoryUnclassified
	}
	if c, ok := seriesMarkers[r]; ok {
		return c
	}
	return CategoryUnclassified
}
