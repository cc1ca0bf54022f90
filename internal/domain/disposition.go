package domain

type RecordDisposition string

const (
	RecordRejected       RecordDisposition = "rejected"
	RecordFailed         RecordDisposition = "failed"
	RecordUnchanged      RecordDisposition = "unchanged"
	RecordMatched        RecordDisposition = "matched"
	RecordCreatedVariant RecordDisposition = "created_variant"
	RecordCreatedProduct RecordDisposition = "created_product"
)
