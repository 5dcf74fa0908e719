package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category серия марки, определяется по первому символу идентификатора
type Category string

const (
	CategoryJ             Category = "J"
	CategoryT             Category = "T"
	CategorySpecial       Category = "special"
	CategoryLiterary      Category = "literary"
	CategoryNumbered      Category = "numbered"
	CategoryCommemorative Category = "commemorative"
	CategoryOther         Category = "other"
	CategoryUnclassified  Category = "unclassified"
)

var categoryLabels = map[Category]string{
	CategoryJ:             "纪字号 (J)",
	CategoryT:             "特字号 (T)",
	CategorySpecial:       "特种 (特)",
	CategoryLiterary:      "文革 (文)",
	CategoryNumbered:      "编号 (编)",
	CategoryCommemorative: "纪念 (纪)",
	CategoryOther:         "其他",
	CategoryUnclassified:  "未分类",
}

// Label возвращает подпись категории для отчётов
func (c Category) Label() string {
	if label, ok := categoryLabels[c]; ok {
		return label
	}
	return categoryLabels[CategoryUnclassified]
}

// Record одна распознанная позиция каталога с ценой на дату наблюдения
type Record struct {
	Identifier   string
	Category     Category
	Title        string
	Price        decimal.Decimal
	ObservedDate time.Time
	ImageRef     string
	SectionID    string
	SourceURL    string
}

// Key уникальный ключ записи с учётом вариантов печати
func (r *Record) Key() string {
	return MakeKey(r.Identifier, r.Title)
}
