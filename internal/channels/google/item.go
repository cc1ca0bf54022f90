package google

// Item is one offer in a merchant-feed style listing. Variants of a product
// share ItemGroupID.
type Item struct {
	ID                   string   `json:"id"`
	ItemGroupID          string   `json:"item_group_id"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	Brand                string   `json:"brand,omitempty"`
	GTIN                 string   `json:"gtin,omitempty"`
	MPN                  string   `json:"mpn,omitempty"`
	ImageLink            string   `json:"image_link,omitempty"`
	AdditionalImageLinks []string `json:"additional_image_links,omitempty"`
	Availability         string   `json:"availability"`
	Condition            string   `json:"condition"`
	Price                string   `json:"price"` // "15990.00 RUB"
	Size                 string   `json:"size,omitempty"`
	Color                string   `json:"color,omitempty"`
}

type Feed struct {
	ProductID int64  `json:"product_id"`
	Items     []Item `json:"items"`
}
