package scraper

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"stamp-price-tracker/internal/catalog"
	"stamp-price-tracker/internal/normalize"
)

// Причины отбраковки карточки
const (
	ReasonMissingTitle      = "missing_title"
	ReasonMissingIdentifier = "missing_identifier"
	ReasonMissingPrice      = "missing_price"
	ReasonUnparseablePrice  = "unparseable_price"
	ReasonNegativePrice     = "negative_price"
	ReasonOutOfSection      = "out_of_section"
)

// RejectionError карточка не прошла проверку полей и не сохраняется
type RejectionError struct {
	Reason      string
	SequenceNum int
	Detail      string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("listing %d rejected: %s", e.SequenceNum, e.Reason)
	}
	return fmt.Sprintf("listing %d rejected: %s (%s)", e.SequenceNum, e.Reason, e.Detail)
}

var (
	labelFieldRe = regexp.MustCompile(`志号\s*[：:]\s*(\p{Han}?[0-9A-Za-z]+(?:-[0-9A-Za-z]+)?)`)
	// J120, T50, J120M, T46小型张
	titleJTRe = regexp.MustCompile(`(?:^|[^A-Za-z])([JT])(\d+)(?:(M)(?:[^A-Za-z]|$)|\s*(小型张))?`)
	// 纪94, 特61, 文7, 编12, 普4A
	titlePrefixRe = regexp.MustCompile(`([纪特文编普贺])\s*(\d+)([A-Za-z])?`)
	// 2002-5, 12
	titleNumericRe = regexp.MustCompile(`(?:^|[^0-9A-Za-z.])(\d{1,4}(?:-\d{1,3})?)(?:[^0-9.]|$)`)
)

const numberedSeriesMarker = "编"

type identifierRule struct {
	name  string
	apply func(l *Listing, title string) string
}

// identifierRules порядок важен: первое непустое значение выигрывает
var identifierRules = []identifierRule{
	{name: "label_field", apply: fromLabelField},
	{name: "title_jt", apply: fromTitleJT},
	{name: "title_prefix", apply: fromTitlePrefix},
	{name: "title_numeric", apply: fromTitleNumeric},
}

func fromLabelField(l *Listing, _ string) string {
	for _, text := range []string{l.IdentifierText, l.CardText} {
		if m := labelFieldRe.FindStringSubmatch(text); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

func fromTitleJT(_ *Listing, title string) string {
	m := titleJTRe.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	id := m[1] + m[2]
	if m[3] != "" || m[4] != "" {
		id += "M"
	}
	return id
}

func fromTitlePrefix(_ *Listing, title string) string {
	m := titlePrefixRe.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	return m[1] + m[2] + strings.ToUpper(m[3])
}

func fromTitleNumeric(_ *Listing, title string) string {
	m := titleNumericRe.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	return numberedSeriesMarker + m[1]
}

type Extractor struct {
	normalizer *normalize.Normalizer
	now        func() time.Time
}

func NewExtractor(normalizer *normalize.Normalizer) *Extractor {
	return &Extractor{
		normalizer: normalizer,
		now:        time.Now,
	}
}

// WithClock подменяет источник даты наблюдения
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Extract превращает карточку в запись или возвращает *RejectionError
func (e *Extractor) Extract(l *Listing, scope Scope) (*catalog.Record, error) {
	title := e.cleanTitle(l.TitleText)
	if title == "" {
		return nil, &RejectionError{Reason: ReasonMissingTitle, SequenceNum: l.SequenceNum}
	}

	identifier := ""
	for _, rule := range identifierRules {
		if identifier = rule.apply(l, title); identifier != "" {
			break
		}
	}
	if identifier == "" {
		return nil, &RejectionError{Reason: ReasonMissingIdentifier, SequenceNum: l.SequenceNum, Detail: e.normalizer.TruncatePreview(title)}
	}

	if !inSection(identifier, scope.AllowedPrefixes) {
		return nil, &RejectionError{Reason: ReasonOutOfSection, SequenceNum: l.SequenceNum, Detail: identifier}
	}

	priceText := strings.TrimSpace(l.PriceText)
	if priceText == "" {
		priceText = findCardPrice(l.CardText)
	}
	if priceText == "" {
		return nil, &RejectionError{Reason: ReasonMissingPrice, SequenceNum: l.SequenceNum, Detail: identifier}
	}

	price, err := ParsePrice(priceText)
	if err != nil {
		reason := ReasonUnparseablePrice
		switch {
		case errors.Is(err, ErrNegativePrice):
			reason = ReasonNegativePrice
		case errors.Is(err, ErrEmptyPrice):
			reason = ReasonMissingPrice
		}
		return nil, &RejectionError{Reason: reason, SequenceNum: l.SequenceNum, Detail: e.normalizer.TruncatePreview(priceText)}
	}

	imageRef, err := normalize.ResolveURL(scope.PageURL, l.ImageRef)
	if err != nil {
		// Картинка необязательна
		imageRef = ""
	}

	now := e.now()
	return &catalog.Record{
		Identifier:   identifier,
		Category:     catalog.Classify(identifier),
		Title:        title,
		Price:        price,
		ObservedDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		ImageRef:     imageRef,
		SectionID:    scope.SectionID,
		SourceURL:    scope.PageURL,
	}, nil
}

// cleanTitle снимает разметку, попавшую в заголовок экранированной (&lt;b&gt;)
func (e *Extractor) cleanTitle(text string) string {
	if strings.Contains(text, "<") {
		return e.normalizer.CleanHTML(text)
	}
	return e.normalizer.CleanText(text)
}

// ExtractPage извлекает записи страницы; отбракованные карточки
// возвращаются отдельно и никогда не прерывают страницу.
func (e *Extractor) ExtractPage(listings []*Listing, scope Scope) ([]*catalog.Record, []*RejectionError) {
	var records []*catalog.Record
	var rejections []*RejectionError

	for _, l := range listings {
		record, err := e.Extract(l, scope)
		if err != nil {
			var rejection *RejectionError
			if !errors.As(err, &rejection) {
				rejection = &RejectionError{Reason: ReasonUnparseablePrice, SequenceNum: l.SequenceNum, Detail: err.Error()}
			}
			rejections = append(rejections, rejection)
			continue
		}
		records = append(records, record)
	}

	return records, rejections
}

func inSection(identifier string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(identifier, p) {
			return true
		}
	}
	return false
}
