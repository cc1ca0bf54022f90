// Package google renders projections as merchant-feed items and pushes them
// through the generic HTTP channel client.
package google

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ETAnderson/catalogsync/internal/channels"
	"github.com/ETAnderson/catalogsync/internal/channels/httpapi"
)

const (
	availabilityInStock    = "in_stock"
	availabilityOutOfStock = "out_of_stock"
)

// New returns an HTTP channel client named "google" whose payloads are feeds.
func New(cfg httpapi.Config, currency string) (*httpapi.Client, error) {
	if cfg.Name == "" {
		cfg.Name = "google"
	}
	cfg.Encode = Encoder(currency)
	return httpapi.New(cfg)
}

func Encoder(currency string) httpapi.EncodeFunc {
	if currency == "" {
		currency = "RUB"
	}
	return func(productID int64, p channels.Projection) any {
		return BuildFeed(productID, p, currency)
	}
}

// BuildFeed emits one item per variant. A product without variants becomes a
// single item priced at its best price.
func BuildFeed(productID int64, p channels.Projection, currency string) Feed {
	group := fmt.Sprintf("p%d", productID)
	base := Item{
		ItemGroupID: group,
		Title:       p.Name,
		Description: p.Description,
		Condition:   "new",
	}
	if p.Brand != nil {
		base.Brand = p.Brand.Name
	}
	if len(p.Images) > 0 {
		base.ImageLink = p.Images[0]
		base.AdditionalImageLinks = p.Images[1:]
	}

	feed := Feed{ProductID: productID, Items: []Item{}}
	if len(p.Variants) == 0 {
		it := base
		it.ID = group
		it.Price = p.BestPrice.StringFixed(2) + " " + currency
		it.Availability = availability(p.InStock)
		feed.Items = append(feed.Items, it)
		return feed
	}

	for _, v := range p.Variants {
		it := base
		it.ID = fmt.Sprintf("%s-v%d", group, v.ID)
		it.GTIN = v.GTIN
		it.MPN = v.MPN
		it.Title = variantTitle(p.Name, v.Axes, p.SelectorAxes)
		it.Price = v.Price.StringFixed(2) + " " + currency
		it.Availability = availability(v.InStock)
		it.Size = size(v.Axes)
		it.Color = v.Axes["color"]
		feed.Items = append(feed.Items, it)
	}
	return feed
}

func availability(inStock bool) string {
	if inStock {
		return availabilityInStock
	}
	return availabilityOutOfStock
}

func size(axes map[string]string) string {
	if w, l := axes["width"], axes["length"]; w != "" && l != "" {
		return w + "x" + l
	}
	return axes["size"]
}

func variantTitle(name string, axes map[string]string, selectors []string) string {
	if len(selectors) == 0 {
		return name
	}
	keys := append([]string(nil), selectors...)
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := axes[k]; v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return name
	}
	return name + " " + strings.Join(parts, " / ")
}
