package domain

import "time"

// WildcardFamily matches any product family in a channel requirement row.
const WildcardFamily = "*"

type ChannelRequirement struct {
	Channel string `json:"channel"`
	Family  string `json:"family"`

	RequiredAttributes    []string `json:"required_attributes,omitempty"`
	RecommendedAttributes []string `json:"recommended_attributes,omitempty"`

	MinImages            int  `json:"min_images"`
	RequireBarcode       bool `json:"require_barcode"`
	RequireDescription   bool `json:"require_description"`
	MinDescriptionLength int  `json:"min_description_length"`
	RequireBrand         bool `json:"require_brand"`
	RequirePrice         bool `json:"require_price"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ReadinessResult is the cached outcome of a readiness evaluation.
type ReadinessResult struct {
	ProductID   int64     `json:"product_id"`
	Channel     string    `json:"channel"`
	Ready       bool      `json:"ready"`
	Score       int       `json:"score"`
	Missing     []string  `json:"missing"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}
