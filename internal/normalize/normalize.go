package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var spacesRe = regexp.MustCompile(`\s+`)

// Options управляет очисткой текста карточек
type Options struct {
	StripPatterns   []string
	TrimNBSP        bool
	CollapseSpaces  bool
	MaxPreviewChars int
}

type Normalizer struct {
	opts  Options
	strip []*regexp.Regexp
}

func NewNormalizer(opts Options) (*Normalizer, error) {
	n := &Normalizer{opts: opts}
	for _, p := range opts.StripPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid strip pattern %q: %w", p, err)
		}
		n.strip = append(n.strip, re)
	}
	return n, nil
}

// CleanText убирает рекламные вставки, NBSP и лишние пробелы
func (n *Normalizer) CleanText(text string) string {
	for _, re := range n.strip {
		text = re.ReplaceAllString(text, "")
	}

	if n.opts.TrimNBSP {
		// NBSP и полноширинный пробел
		text = strings.ReplaceAll(text, "\u00A0", " ")
		text = strings.ReplaceAll(text, "\u3000", " ")
	}

	if n.opts.CollapseSpaces {
		text = spacesRe.ReplaceAllString(text, " ")
	}

	return strings.TrimSpace(text)
}

// CleanHTML парсит фрагмент разметки и возвращает очищенный текст
func (n *Normalizer) CleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, noscript").Remove()

	return n.CleanText(doc.Text())
}

// TruncatePreview обрезает текст до MaxPreviewChars символов
func (n *Normalizer) TruncatePreview(text string) string {
	limit := n.opts.MaxPreviewChars
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}

	truncated := string(runes[:limit])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		return truncated[:lastSpace] + "…"
	}

	return truncated + "…"
}

// NormalizeURL убирает якорь и пробелы по краям
func NormalizeURL(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	if idx := strings.Index(urlStr, "#"); idx > -1 {
		urlStr = urlStr[:idx]
	}
	return urlStr
}

// ResolveURL делает ссылку абсолютной относительно адреса страницы
func ResolveURL(pageURL, ref string) (string, error) {
	ref = NormalizeURL(ref)
	if ref == "" {
		return "", nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	// Протокол-относительные ссылки вида //img.example.com/a.jpg
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference %q: %w", ref, err)
	}

	return base.ResolveReference(refURL).String(), nil
}
