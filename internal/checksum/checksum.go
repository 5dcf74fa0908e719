package checksum

import (
	"crypto/sha256"
	"fmt"

	"github.com/shopspring/decimal"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateItemHash генерирует SHA256 хеш состояния позиции
// Формула: SHA256(key|title|category|latest_price|last_date)
func (g *Generator) GenerateItemHash(key, title, category string, latest decimal.Decimal, lastDate string) string {
	content := fmt.Sprintf("%s|%s|%s|%s|%s", key, title, category, latest.String(), lastDate)

	hash := sha256.Sum256([]byte(content))

	return fmt.Sprintf("%x", hash)
}

// VerifyItemHash проверяет соответствие хеша
func (g *Generator) VerifyItemHash(expectedHash, key, title, category string, latest decimal.Decimal, lastDate string) bool {
	return g.GenerateItemHash(key, title, category, latest, lastDate) == expectedHash
}
