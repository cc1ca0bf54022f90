package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

type recordingSeeder struct {
	brands  []domain.Brand
	aliases []domain.BrandAlias
	reqs    []domain.ChannelRequirement
	failReq bool
}

func (s *recordingSeeder) CreateBrand(_ context.Context, b domain.Brand) (domain.Brand, error) {
	b.ID = int64(len(s.brands) + 1)
	s.brands = append(s.brands, b)
	return b, nil
}

func (s *recordingSeeder) AddBrandAlias(_ context.Context, a domain.BrandAlias) error {
	s.aliases = append(s.aliases, a)
	return nil
}

func (s *recordingSeeder) SetRequirement(_ context.Context, r domain.ChannelRequirement) error {
	if s.failReq {
		return errors.New("boom")
	}
	s.reqs = append(s.reqs, r)
	return nil
}

func TestSeed_WritesBrandsAliasesAndRequirements(t *testing.T) {
	c, err := Parse([]byte(`
brands:
  - name: Ormatek
    aliases: [Орматек, Ormatec]
requirements:
  - channel: main
    family: "*"
    min_images: 2
`))
	require.NoError(t, err)

	s := &recordingSeeder{}
	require.NoError(t, Seed(context.Background(), c, s, s))

	require.Len(t, s.brands, 1)
	assert.Equal(t, "Ormatek", s.brands[0].Name)
	assert.True(t, s.brands[0].Active)

	require.Len(t, s.aliases, 2)
	assert.Equal(t, int64(1), s.aliases[0].BrandID)
	assert.Equal(t, "Орматек", s.aliases[0].Alias)

	require.Len(t, s.reqs, 1)
	assert.Equal(t, "main", s.reqs[0].Channel)
	assert.Equal(t, 2, s.reqs[0].MinImages)
}

func TestSeed_PropagatesRequirementError(t *testing.T) {
	s := &recordingSeeder{failReq: true}
	err := Seed(context.Background(), Default(), s, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed requirement main/*")
}
