package scraper

// Listing сырые текстовые фрагменты одной карточки каталога
type Listing struct {
	TitleText      string
	IdentifierText string
	PriceText      string
	CardText       string
	ImageRef       string
	SequenceNum    int
}

// Page результат разбора одной страницы листинга
type Page struct {
	Listings  []*Listing
	NoResults bool
}

// Scope ограничения раздела, в котором найдена карточка
type Scope struct {
	SectionID       string
	AllowedPrefixes []string
	PageURL         string
}

type Selectors struct {
	ListContainer       string   `yaml:"list_container"`
	CardSelectors       string   `yaml:"card_selectors"`
	TitleSelectors      []string `yaml:"title_selectors"`
	IdentifierSelectors []string `yaml:"identifier_selectors"`
	PriceSelectors      []string `yaml:"price_selectors"`
	ImageSelectors      []string `yaml:"image_selectors"`
	ImageAttributes     []string `yaml:"image_attributes"`
	NoResultsMarkers    []string `yaml:"no_results_markers"`
}

// DefaultSelectors разметка листингов 518yp.com
func DefaultSelectors() *Selectors {
	return &Selectors{
		CardSelectors:       "div.item, li.item, div.list-item, li.list-item",
		TitleSelectors:      []string{"strong", "b", "h3", ".title", "a[title]"},
		IdentifierSelectors: []string{".zhihao", ".code", "p", "span"},
		PriceSelectors:      []string{".price", ".jg", "em", "font[color]"},
		ImageSelectors:      []string{"img"},
		ImageAttributes:     []string{"data-original", "data-src", "src"},
		NoResultsMarkers:    []string{"没有找到", "暂无", "无相关"},
	}
}
