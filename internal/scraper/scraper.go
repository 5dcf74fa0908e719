package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type Scraper struct {
	selectors *Selectors
}

func NewScraper(selectors *Selectors) *Scraper {
	return &Scraper{
		selectors: selectors,
	}
}

// ParseListing парсит страницу листинга и возвращает карточки как есть,
// без проверки полей. Проверка полей выполняется в Extractor.
func (s *Scraper) ParseListing(html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	root := doc.Selection
	if s.selectors.ListContainer != "" {
		if container := doc.Find(s.selectors.ListContainer).First(); container.Length() > 0 {
			root = container
		}
	}

	page := &Page{}
	sequenceNum := 0

	root.Find(s.selectors.CardSelectors).Each(func(i int, sel *goquery.Selection) {
		// Вложенные карточки (li.item внутри div.item) учитываем один раз
		if sel.ParentsFiltered(s.selectors.CardSelectors).Length() > 0 {
			return
		}

		listing := &Listing{
			TitleText:      trySelectors(sel, s.selectors.TitleSelectors),
			IdentifierText: collectTexts(sel, s.selectors.IdentifierSelectors),
			PriceText:      trySelectors(sel, s.selectors.PriceSelectors),
			CardText:       strings.TrimSpace(sel.Text()),
			ImageRef:       tryAttributes(sel, s.selectors.ImageSelectors, s.selectors.ImageAttributes),
			SequenceNum:    sequenceNum,
		}

		if listing.CardText == "" && listing.ImageRef == "" {
			return
		}

		page.Listings = append(page.Listings, listing)
		sequenceNum++
	})

	page.NoResults = s.hasNoResultsMarker(doc)

	return page, nil
}

// hasNoResultsMarker ищет маркер в тексте страницы вне карточек:
// текст карточки вроде "暂无图片" маркером не считается
func (s *Scraper) hasNoResultsMarker(doc *goquery.Document) bool {
	body := doc.Find("body").Clone()
	if s.selectors.CardSelectors != "" {
		body.Find(s.selectors.CardSelectors).Remove()
	}
	text := body.Text()
	for _, marker := range s.selectors.NoResultsMarkers {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// trySelectors возвращает текст первого непустого совпадения
func trySelectors(s *goquery.Selection, selectors []string) string {
	for _, selector := range selectors {
		text := strings.TrimSpace(s.Find(selector).First().Text())
		if text != "" {
			return text
		}
		attr, exists := s.Find(selector).First().Attr("title")
		if exists && strings.TrimSpace(attr) != "" {
			return strings.TrimSpace(attr)
		}
	}
	return ""
}

// collectTexts собирает тексты всех совпадений: метка 志号 может быть в любом абзаце
func collectTexts(s *goquery.Selection, selectors []string) string {
	var parts []string
	for _, selector := range selectors {
		s.Find(selector).Each(func(_ int, el *goquery.Selection) {
			if text := strings.TrimSpace(el.Text()); text != "" {
				parts = append(parts, text)
			}
		})
	}
	return strings.Join(parts, "\n")
}

func tryAttributes(s *goquery.Selection, selectors, attributes []string) string {
	for _, selector := range selectors {
		el := s.Find(selector).First()
		if el.Length() == 0 {
			continue
		}
		for _, name := range attributes {
			if attr, exists := el.Attr(name); exists && strings.TrimSpace(attr) != "" {
				return strings.TrimSpace(attr)
			}
		}
	}
	return ""
}
