package scraper

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyPrice       = errors.New("price is empty")
	ErrUnparseablePrice = errors.New("price is not a number")
	ErrNegativePrice    = errors.New("price is negative")
)

var (
	currencyReplacer = strings.NewReplacer(
		"￥", "", "¥", "", "元", "", "RMB", "", "rmb", "",
		",", "", "，", "",
	)
	// После очистки строка должна быть числом целиком
	priceNumberRe = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
	// Цена в свободном тексте карточки: ￥ 12 или ¥12.50
	cardPriceRe = regexp.MustCompile(`[￥¥]\s*(-?[\d,]+(?:\.\d+)?)`)
)

// ParsePrice разбирает текст цены: убирает знак валюты, пробелы и
// разделители тысяч. Любой нечисловой остаток отбраковывает цену.
func ParsePrice(text string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, currencyReplacer.Replace(text))

	if cleaned == "" {
		return decimal.Zero, ErrEmptyPrice
	}

	if !priceNumberRe.MatchString(cleaned) {
		return decimal.Zero, ErrUnparseablePrice
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, ErrUnparseablePrice
	}
	if price.IsNegative() {
		return decimal.Zero, ErrNegativePrice
	}

	return price, nil
}

// findCardPrice ищет цену со знаком валюты в полном тексте карточки
func findCardPrice(cardText string) string {
	m := cardPriceRe.FindStringSubmatch(cardText)
	if m == nil {
		return ""
	}
	return m[1]
}
