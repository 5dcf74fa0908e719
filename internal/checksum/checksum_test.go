package checksum

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestGenerateItemHash(t *testing.T) {
	gen := NewGenerator()

	price := decimal.RequireFromString("8.5")

	hash1 := gen.GenerateItemHash("T50", "T50 关汉卿", "T", price, "2024-05-01")
	hash2 := gen.GenerateItemHash("T50", "T50 关汉卿", "T", price, "2024-05-01")

	// Хеш должен быть детерминированным
	if hash1 != hash2 {
		t.Errorf("Hash not deterministic: %s != %s", hash1, hash2)
	}

	if len(hash1) != 64 {
		t.Errorf("Hash wrong length: %d, expected 64", len(hash1))
	}

	// Новая цена меняет хеш
	hash3 := gen.GenerateItemHash("T50", "T50 关汉卿", "T", decimal.NewFromInt(9), "2024-05-01")
	if hash1 == hash3 {
		t.Errorf("Hash should change when price changes")
	}
}

func TestGenerateItemHashIgnoresTrailingZeros(t *testing.T) {
	gen := NewGenerator()

	a := gen.GenerateItemHash("J1", "J1", "J", decimal.RequireFromString("8.50"), "2024-05-01")
	b := gen.GenerateItemHash("J1", "J1", "J", decimal.RequireFromString("8.5"), "2024-05-01")
	if a != b {
		t.Errorf("equal prices should hash equally")
	}
}

func TestVerifyItemHash(t *testing.T) {
	gen := NewGenerator()
	price := decimal.NewFromInt(12)

	hash := gen.GenerateItemHash("文7", "文7 再版", "literary", price, "2024-05-01")

	if !gen.VerifyItemHash(hash, "文7", "文7 再版", "literary", price, "2024-05-01") {
		t.Errorf("VerifyItemHash failed for correct data")
	}

	if gen.VerifyItemHash(hash, "文7", "文7", "literary", price, "2024-05-01") {
		t.Errorf("VerifyItemHash should fail for wrong title")
	}
}
