package receipt

import "errors"

var (
	// ErrNotFound means the draft is not in staging: never staged, already approved or discarded
	ErrNotFound = errors.New("receipt not found")

	// ErrDuplicateReceipt is returned by the ledger when the receipt ID was already promoted
	ErrDuplicateReceipt = errors.New("receipt already in ledger")

	// ErrPromotionFailed means the ledger rejected or could not take the write; the draft is intact
	ErrPromotionFailed = errors.New("failed to save receipt")

	// ErrExtractionFailed means no valid draft could be produced from an image
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrIngestInProgress means another caller is already ingesting the same inbox file
	ErrIngestInProgress = errors.New("ingestion already in progress")

	// ErrInvalidEdits means the submitted corrections do not fit the receipt schema
	ErrInvalidEdits = errors.New("invalid receipt edits")

	// ErrDuplicateCategory means a category with the same name exists
	ErrDuplicateCategory = errors.New("category already exists")
)
