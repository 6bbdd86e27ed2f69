package receipt

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

var (
	filenameSpecialChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces       = regexp.MustCompile(`\s+`)
)

// IDGenerator generates unique IDs for drafts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// IngestResult is the outcome of ingesting one inbox file
type IngestResult struct {
	File    string `json:"file"`
	DraftID string `json:"draft_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// IngestReport summarizes an inbox sweep
type IngestReport struct {
	Staged  int            `json:"staged"`
	Failed  int            `json:"failed"`
	Skipped int            `json:"skipped"`
	Results []IngestResult `json:"results"`
}

// Service owns the receipt lifecycle: ingestion into staging, review, and promotion to the ledger
type Service struct {
	staging     StagingStore
	ledger      Ledger
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource

	mu       sync.Mutex
	inFlight map[string]struct{} // inbox files currently being ingested
}

// NewService creates a new Service with default ID generator and time source
func NewService(staging StagingStore, ledger Ledger, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(staging, ledger, scanner, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(staging StagingStore, ledger Ledger, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		staging:     staging,
		ledger:      ledger,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		inFlight:    make(map[string]struct{}),
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = filenameSpecialChars.ReplaceAllString(base, "")
	base = filenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// Upload stores an image in the inbox under a unique name for the next ingestion sweep
func (s *Service) Upload(filename string, data []byte) (string, error) {
	cleanFilename := sanitizeFilename(filename)
	if !IsSupportedImage(cleanFilename) {
		return "", fmt.Errorf("unsupported file type: %s", filepath.Ext(cleanFilename))
	}

	name := fmt.Sprintf("%s_%s", strings.ReplaceAll(s.idGenerator.Generate(), "-", ""), cleanFilename)
	saved, err := s.storage.Save(name, data)
	if err != nil {
		return "", fmt.Errorf("saving file: %w", err)
	}
	return saved, nil
}

// draftFromScan converts scanner output into a draft; an unusable date rejects the scan
func draftFromScan(id string, data *scanning.ReceiptData, sourceFile string, now time.Time) (*Draft, error) {
	draft := &Draft{
		ID:          id,
		TotalAmount: data.TotalAmount,
		Items:       make([]Item, 0, len(data.Items)),
		SourceFile:  sourceFile,
		CreatedAt:   now,
	}
	if data.Vendor != "" {
		vendor := data.Vendor
		draft.VendorName = &vendor
	}
	if data.PurchaseDate != "" {
		date, err := ParseDate(data.PurchaseDate)
		if err != nil {
			return nil, err
		}
		draft.PurchaseDate = &date
	}
	for _, item := range data.Items {
		draft.Items = append(draft.Items, Item{Description: item.Description, Amount: item.Amount})
	}
	return draft, nil
}

// claim marks an inbox file as being ingested; false means another caller holds it
func (s *Service) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[name]; busy {
		return false
	}
	s.inFlight[name] = struct{}{}
	return true
}

func (s *Service) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, name)
}

// Ingest extracts a draft from an inbox image and stages it.
// On extraction failure the image is left in the inbox so the next sweep retries it.
// A file already being ingested by another caller returns ErrIngestInProgress.
func (s *Service) Ingest(name string) (string, error) {
	if !s.claim(name) {
		return "", fmt.Errorf("%w: %s", ErrIngestInProgress, name)
	}
	defer s.release(name)

	data, err := s.storage.Get(name)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}

	contentType := contentTypeFor(name)
	var draft *Draft
	scanned, err := s.scanner.ScanReceipt(data, contentType)
	if err == nil {
		draft, err = draftFromScan(s.idGenerator.Generate(), scanned, name, s.timeSource.Now())
	}
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", name,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return "", fmt.Errorf("%w: %s: %v", ErrExtractionFailed, name, err)
	}

	return s.stage(name, draft)
}

func (s *Service) stage(name string, draft *Draft) (string, error) {
	if err := s.staging.Put(draft); err != nil {
		return "", fmt.Errorf("staging draft for %s: %w", name, err)
	}

	// A failed move means the next sweep stages the image again; worth an operator's attention
	if err := s.storage.Archive(name); err != nil {
		slog.Error("Failed to move ingested file out of inbox", "filename", name, "draft_id", draft.ID, "error", err)
	}

	slog.Info("Staged receipt draft", "filename", name, "draft_id", draft.ID)
	return draft.ID, nil
}

// IngestAll sweeps the inbox once, ingesting every supported image independently
func (s *Service) IngestAll() (*IngestReport, error) {
	names, err := s.storage.List()
	if err != nil {
		return nil, fmt.Errorf("listing inbox: %w", err)
	}

	report := &IngestReport{Results: make([]IngestResult, 0, len(names))}
	for _, name := range names {
		id, err := s.Ingest(name)
		if errors.Is(err, ErrIngestInProgress) {
			report.Skipped++
			continue
		}
		if err != nil {
			report.Failed++
			report.Results = append(report.Results, IngestResult{File: name, Error: err.Error()})
			continue
		}
		report.Staged++
		report.Results = append(report.Results, IngestResult{File: name, DraftID: id})
	}
	return report, nil
}

// ListPending returns drafts awaiting review
func (s *Service) ListPending() ([]*Draft, error) {
	drafts, err := s.staging.ListPending()
	if err != nil {
		return nil, fmt.Errorf("listing pending receipts: %w", err)
	}
	return drafts, nil
}

// GetPending returns one draft awaiting review
func (s *Service) GetPending(id string) (*Draft, error) {
	draft, found, err := s.staging.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting pending receipt: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return draft, nil
}

// Discard drops a draft without promoting it
func (s *Service) Discard(id string) error {
	if _, err := s.GetPending(id); err != nil {
		return err
	}
	if err := s.staging.Delete(id); err != nil {
		return fmt.Errorf("discarding receipt %s: %w", id, err)
	}
	slog.Info("Discarded receipt draft", "draft_id", id)
	return nil
}

// Approve promotes a staged draft, with the human edits merged in, to the ledger.
//
// The ledger write always happens before the staging delete. The ledger's unique
// receipt ID makes a repeated approval converge on the row written the first time,
// so a crash or failure between the two steps is repaired by approving again.
// Approving an id that already left staging returns its ledger row.
func (s *Service) Approve(id string, edits Edits) (*VerifiedReceipt, error) {
	draft, found, err := s.staging.Get(id)
	if err != nil {
		slog.Error("Failed to read draft for approval", "receipt_id", id, "error", err)
		return nil, fmt.Errorf("%w: reading draft %s: %v", ErrPromotionFailed, id, err)
	}
	if !found {
		existing, approved, findErr := s.ledger.FindByReceiptID(id)
		if findErr != nil {
			slog.Error("Failed to check ledger for approval", "receipt_id", id, "error", findErr)
			return nil, fmt.Errorf("%w: reading approved receipt %s: %v", ErrPromotionFailed, id, findErr)
		}
		if !approved {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		slog.Info("Receipt already approved", "receipt_id", id, "ledger_id", existing.ID)
		return existing, nil
	}

	merged := draft.Merge(edits)

	verified, err := s.ledger.Insert(id, merged.VendorName, merged.PurchaseDate, merged.TotalAmount, merged.Items)
	switch {
	case errors.Is(err, ErrDuplicateReceipt):
		existing, found, findErr := s.ledger.FindByReceiptID(id)
		if findErr != nil || !found {
			slog.Error("Ledger reported duplicate but the row could not be read", "receipt_id", id, "error", findErr)
			return nil, fmt.Errorf("%w: reading approved receipt %s: %v", ErrPromotionFailed, id, findErr)
		}
		slog.Info("Receipt already approved, completing cleanup", "receipt_id", id)
		verified = existing
	case err != nil:
		slog.Error("Failed to promote receipt", "receipt_id", id, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPromotionFailed, err)
	}

	if err := s.staging.Delete(id); err != nil {
		slog.Warn("Receipt approved but draft is still staged", "receipt_id", id, "error", err)
	}

	slog.Info("Approved receipt", "receipt_id", id, "ledger_id", verified.ID)
	return verified, nil
}

// ListApproved returns ledger receipts, most recently approved first
func (s *Service) ListApproved() ([]*VerifiedReceipt, error) {
	receipts, err := s.ledger.ListAll()
	if err != nil {
		return nil, fmt.Errorf("listing approved receipts: %w", err)
	}
	return receipts, nil
}
