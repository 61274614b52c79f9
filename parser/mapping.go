package parser

import "github.com/aluiziolira/go-scrape-figures/models"

// Flag names a canonical order/stock signal. The same names are used as keys
// in Product.Flags.
type Flag string

const (
	FlagOnSale      Flag = "on_sale"
	FlagLimited     Flag = "limited"
	FlagPreowned    Flag = "preowned"
	FlagPreorder    Flag = "preorder"
	FlagBackorder   Flag = "backorder"
	FlagOrderClosed Flag = "order_closed"
	FlagInStock     Flag = "in_stock"
)

var allFlags = []Flag{FlagOnSale, FlagLimited, FlagPreowned, FlagPreorder, FlagBackorder, FlagOrderClosed, FlagInStock}

// FlagSource is one place a flag can be read from. With Present set any
// non-empty value counts; with an empty Contains the field's truthiness is
// used; otherwise the field must be a string containing Contains
// (case-insensitive).
type FlagSource struct {
	Key      string
	Contains string
	Present  bool
}

// Mapping is the static source→canonical field table for one source kind.
// Field lists hold candidate keys; the first non-empty value wins.
type Mapping struct {
	Catalog   string
	Currency  string
	SiteURL   string
	ImageHost string

	ID          []string
	Title       []string
	URL         []string
	Image       []string
	Thumbnail   []string
	SKU         []string
	Brand       []string
	Price       []string
	ReleaseDate []string

	// DetailPath builds the product URL from the id when no URL field is set.
	DetailPath string
	// IDFromURL derives the id from the last path segment of the product URL.
	IDFromURL bool

	Flags map[Flag][]FlagSource
}

func truthy(keys ...string) []FlagSource {
	out := make([]FlagSource, 0, len(keys))
	for _, k := range keys {
		out = append(out, FlagSource{Key: k})
	}
	return out
}

var amiamiSearchMapping = Mapping{
	Catalog:     "amiami",
	Currency:    "JPY",
	SiteURL:     "https://www.amiami.com",
	ImageHost:   "https://img.amiami.com",
	ID:          []string{"gcode", "scode"},
	Title:       []string{"gname", "thumb_title"},
	Image:       []string{"thumb_url"},
	Thumbnail:   []string{"thumb_url"},
	SKU:         []string{"gcode", "scode"},
	Brand:       []string{"maker_name"},
	Price:       []string{"c_price_taxed", "min_price"},
	ReleaseDate: []string{"releasedate"},
	DetailPath:  "/eng/detail/?gcode=%s",
	Flags: map[Flag][]FlagSource{
		FlagOnSale:      truthy("saleitem"),
		FlagLimited:     truthy("list_store_bonus", "list_amiami_limited"),
		FlagPreowned:    truthy("condition_flg"),
		FlagPreorder:    truthy("preorderitem"),
		FlagBackorder:   truthy("list_backorder_available"),
		FlagOrderClosed: truthy("order_closed_flg"),
		FlagInStock:     truthy("instock_flg"),
	},
}

var amiamiItemMapping = Mapping{
	Catalog:     "amiami",
	Currency:    "JPY",
	SiteURL:     "https://www.amiami.com",
	ImageHost:   "https://img.amiami.com",
	ID:          []string{"gcode", "scode"},
	Title:       []string{"gname", "sname"},
	Image:       []string{"main_image_url", "thumb_url"},
	Thumbnail:   []string{"thumb_url"},
	SKU:         []string{"gcode", "scode"},
	Brand:       []string{"maker_name"},
	Price:       []string{"price", "c_price_taxed"},
	ReleaseDate: []string{"releasedate"},
	DetailPath:  "/eng/detail/?gcode=%s",
	Flags: map[Flag][]FlagSource{
		FlagOnSale:      truthy("saleitem"),
		FlagLimited:     truthy("store_bonus", "amiami_limited"),
		FlagPreowned:    truthy("condition_flg"),
		FlagPreorder:    truthy("preorderitem"),
		FlagBackorder:   truthy("backorderitem"),
		FlagOrderClosed: truthy("order_closed_flg"),
		FlagInStock:     truthy("stock", "instock_flg"),
	},
}

var hljMapping = Mapping{
	Catalog:     "hlj",
	Currency:    "JPY",
	SiteURL:     "https://www.hlj.com",
	ImageHost:   "https://www.hlj.com",
	ID:          []string{"code"},
	Title:       []string{"title"},
	URL:         []string{"url"},
	Image:       []string{"image"},
	Thumbnail:   []string{"thumbnail", "image"},
	SKU:         []string{"code"},
	Brand:       []string{"maker"},
	Price:       []string{"sale_price", "price"},
	ReleaseDate: []string{"release"},
	IDFromURL:   true,
	Flags: map[Flag][]FlagSource{
		FlagOnSale: {
			{Key: "sale_price", Present: true},
			{Key: "stock", Contains: "sale"},
		},
		FlagLimited: {
			{Key: "stock", Contains: "exclusive"},
			{Key: "stock", Contains: "limited"},
		},
		FlagPreowned: {
			{Key: "stock", Contains: "pre-owned"},
			{Key: "condition", Contains: "used"},
		},
		FlagPreorder: {
			{Key: "stock", Contains: "pre-order"},
			{Key: "stock", Contains: "future release"},
		},
		FlagBackorder: {
			{Key: "stock", Contains: "backorder"},
			{Key: "stock", Contains: "back-order"},
		},
		FlagOrderClosed: {
			{Key: "stock", Contains: "order stop"},
			{Key: "stock", Contains: "sold out"},
			{Key: "stock", Contains: "discontinued"},
		},
		FlagInStock: {
			{Key: "stock", Contains: "in stock"},
			{Key: "stock", Contains: "few left"},
		},
	},
}

var defaultMappings = map[models.SourceKind]Mapping{
	models.SourceAmiAmi:     amiamiSearchMapping,
	models.SourceAmiAmiItem: amiamiItemMapping,
	models.SourceHLJ:        hljMapping,
}

// MappingFor returns the static table for kind.
func MappingFor(kind models.SourceKind) (Mapping, bool) {
	m, ok := defaultMappings[kind]
	return m, ok
}
