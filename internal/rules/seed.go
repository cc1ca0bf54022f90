package rules

import (
	"context"
	"fmt"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

type BrandSeeder interface {
	CreateBrand(ctx context.Context, b domain.Brand) (domain.Brand, error)
	AddBrandAlias(ctx context.Context, a domain.BrandAlias) error
}

// RequirementSetter is satisfied by *readiness.Gate.
type RequirementSetter interface {
	SetRequirement(ctx context.Context, r domain.ChannelRequirement) error
}

// Seed writes the catalog's brands, aliases and channel requirements. It is
// safe to run on every start: brands are matched by slug and requirement rows
// are upserts.
func Seed(ctx context.Context, c Catalog, brands BrandSeeder, reqs RequirementSetter) error {
	for _, bs := range c.Brands {
		b, err := brands.CreateBrand(ctx, domain.Brand{Name: bs.Name, Active: true})
		if err != nil {
			return fmt.Errorf("seed brand %q: %w", bs.Name, err)
		}
		for _, alias := range bs.Aliases {
			if err := brands.AddBrandAlias(ctx, domain.BrandAlias{BrandID: b.ID, Alias: alias}); err != nil {
				return fmt.Errorf("seed alias %q for %q: %w", alias, bs.Name, err)
			}
		}
	}

	for _, rs := range c.Requirements {
		if err := reqs.SetRequirement(ctx, rs.Requirement()); err != nil {
			return fmt.Errorf("seed requirement %s/%s: %w", rs.Channel, rs.Family, err)
		}
	}
	return nil
}
