package billing

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-markup/internal/document"
	"github.com/zombor/invoice-markup/internal/invoice"
	"github.com/zombor/invoice-markup/internal/scanning"
)

// IDGenerator generates unique IDs for drafts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource = invoice.TimeSource

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service runs drafts through upload, client details and rendering
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	normalizer  *invoice.Normalizer
	renderer    *document.Renderer
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with uuid IDs and the system clock
func NewService(db DB, scanner scanning.Scanner, storage Storage, renderer *document.Renderer) *Service {
	return NewServiceWithDeps(db, scanner, storage, renderer, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing.
// The time source also dates normalized invoices.
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, renderer *document.Renderer, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		normalizer:  invoice.NewNormalizerWithClock(timeSrc),
		renderer:    renderer,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces  = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters and caps the base name length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)

	base = unsafeNameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "invoice"
	}
	return base + unsafeNameChars.ReplaceAllString(ext, "")
}

// Upload stores the source invoice and scans it. A draft is saved either
// way: awaiting client details on success, failed when scanning fails. The
// scan error is returned alongside the failed draft.
func (s *Service) Upload(ctx context.Context, filename string, data []byte, contentType string) (*Draft, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	draft := &Draft{
		ID:           id,
		State:        StateAwaitingUpload,
		OriginalName: filename,
		ContentType:  contentType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}
	draft.Filename = savedName

	payload, scanErr := s.scanner.ScanInvoice(ctx, filename, data, contentType)
	if scanErr != nil {
		slog.Error("Failed to scan invoice",
			"draft", id,
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", scanErr,
		)
		if err := draft.fail(scanErr, s.timeSource.Now()); err != nil {
			return nil, err
		}
	} else {
		draft.Payload = payload
		if err := draft.transition(StateAwaitingClientDetails, s.timeSource.Now()); err != nil {
			return nil, err
		}
	}

	if err := s.db.SaveDraft(draft); err != nil {
		s.storage.Delete(savedName)
		return nil, fmt.Errorf("saving draft to database: %w", err)
	}

	if scanErr != nil {
		return draft, fmt.Errorf("scanning invoice: %w", scanErr)
	}
	slog.Info("Invoice scanned", "draft", id, "filename", filename)
	return draft, nil
}

// SubmitDetails attaches operator metadata to a draft and normalizes its
// payload. Incomplete metadata is rejected without touching the draft. A
// payload that cannot be normalized fails the draft and the
// *invoice.ProcessingError is returned with it.
func (s *Service) SubmitDetails(id string, md invoice.Metadata) (*Draft, error) {
	draft, err := s.db.GetDraft(id)
	if err != nil {
		return nil, fmt.Errorf("getting draft: %w", err)
	}
	if !draft.CanTransition(StateReady) {
		return nil, fmt.Errorf("submitting details: %w: draft is %s", ErrInvalidState, draft.State)
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}

	record, normErr := s.normalizer.Normalize(draft.Payload, md)
	now := s.timeSource.Now()
	draft.Metadata = &md
	if normErr != nil {
		slog.Warn("Failed to normalize invoice", "draft", id, "error", normErr)
		if err := draft.fail(normErr, now); err != nil {
			return nil, err
		}
	} else {
		draft.Invoice = record
		draft.Error = ""
		if err := draft.transition(StateReady, now); err != nil {
			return nil, err
		}
	}

	if err := s.db.SaveDraft(draft); err != nil {
		return nil, fmt.Errorf("saving draft to database: %w", err)
	}
	if normErr != nil {
		return draft, normErr
	}
	return draft, nil
}

// Document renders the PDF for a ready draft
func (s *Service) Document(id string) (*document.Document, error) {
	draft, err := s.db.GetDraft(id)
	if err != nil {
		return nil, fmt.Errorf("getting draft: %w", err)
	}
	if draft.State != StateReady || draft.Invoice == nil {
		return nil, fmt.Errorf("rendering draft: %w: draft is %s", ErrInvalidState, draft.State)
	}

	doc, err := s.renderer.Render(draft.Invoice)
	if err != nil {
		return nil, fmt.Errorf("rendering draft: %w", err)
	}
	return doc, nil
}

// Render normalizes payload and renders it in one step, without a draft
func (s *Service) Render(payload any, md invoice.Metadata) (*document.Document, error) {
	if err := md.Validate(); err != nil {
		return nil, err
	}
	record, err := s.normalizer.Normalize(payload, md)
	if err != nil {
		return nil, err
	}
	doc, err := s.renderer.Render(record)
	if err != nil {
		return nil, fmt.Errorf("rendering invoice: %w", err)
	}
	return doc, nil
}

// GetDraft retrieves a draft by ID
func (s *Service) GetDraft(id string) (*Draft, error) {
	draft, err := s.db.GetDraft(id)
	if err != nil {
		return nil, fmt.Errorf("getting draft: %w", err)
	}
	return draft, nil
}

// ListDrafts returns all drafts
func (s *Service) ListDrafts() ([]*Draft, error) {
	drafts, err := s.db.ListDrafts()
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	return drafts, nil
}

// DeleteDraft removes a draft and its source file
func (s *Service) DeleteDraft(id string) error {
	draft, err := s.db.GetDraft(id)
	if err != nil {
		return fmt.Errorf("getting draft for deletion: %w", err)
	}

	if draft.Filename != "" {
		if err := s.storage.Delete(draft.Filename); err != nil {
			slog.Warn("Failed to delete file", "filename", draft.Filename, "error", err)
		}
	}

	if err := s.db.DeleteDraft(id); err != nil {
		return fmt.Errorf("deleting draft from database: %w", err)
	}
	return nil
}

// GetSourceFile returns the uploaded file for a draft
func (s *Service) GetSourceFile(id string) ([]byte, string, error) {
	draft, err := s.db.GetDraft(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting draft: %w", err)
	}
	if draft.Filename == "" {
		return nil, "", fmt.Errorf("draft %s has no source file: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(draft.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting source file: %w", err)
	}
	return data, draft.ContentType, nil
}
