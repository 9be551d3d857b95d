package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/zombor/coincard/internal/export"
	"github.com/zombor/coincard/internal/query"
	"github.com/zombor/coincard/internal/record"
	"github.com/zombor/coincard/internal/scanning"
)

// PlaceholderImage marks records entered by hand without a photo
const PlaceholderImage = "placeholder://manual"

// ErrValidation is returned for requests that fail validation before reaching the store
var ErrValidation = errors.New("invalid request")

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// Records is the record store the service persists to
type Records interface {
	Create(draft record.Draft) (*record.Record, error)
	ReadAll() ([]*record.Record, error)
	Get(id int64) (*record.Record, error)
	Update(rec *record.Record) (*record.Record, error)
	Delete(id int64) error
	Reset() error
}

// Vocabulary is the set of hashtags offered for selection
type Vocabulary interface {
	GetAll() ([]string, error)
	AddMany(tags []string) ([]string, error)
	Reset() error
}

// IDGenerator generates unique prefixes for photo file names
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Draft is an analyzed photo waiting for the user to confirm or correct it
type Draft struct {
	ImageURI      string `json:"imageUri"`
	Recipient     string `json:"recipient"`
	Amount        int64  `json:"amount"`
	AmountText    string `json:"amountText"`
	Reply         string `json:"reply,omitempty"`
	AnalysisError string `json:"analysisError,omitempty"`
}

// SaveRequest is the confirmed form of a draft. Amount is the text of the amount field,
// with or without thousands separators.
type SaveRequest struct {
	Recipient string   `json:"recipient" validate:"max=200"`
	Amount    string   `json:"amount" validate:"required"`
	ImageURI  string   `json:"imageUri" validate:"max=512"`
	Hashtags  []string `json:"hashtags" validate:"max=50,dive,max=64"`
}

// UpdateRequest edits a stored record
type UpdateRequest struct {
	Recipient string   `json:"recipient" validate:"max=200"`
	Amount    string   `json:"amount" validate:"required"`
	Hashtags  []string `json:"hashtags" validate:"max=50,dive,max=64"`
}

type hashtagsRequest struct {
	Hashtags []string `validate:"required,max=50,dive,max=64"`
}

// Service runs the capture, confirm, store and review flow
type Service struct {
	records     Records
	tags        Vocabulary
	scanner     scanning.Scanner
	storage     record.Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	location    *time.Location
	validate    *validator.Validate
}

// NewService creates a new Service with uuid photo names and the wall clock
func NewService(records Records, tags Vocabulary, scanner scanning.Scanner, storage record.Storage, loc *time.Location) *Service {
	return NewServiceWithDeps(records, tags, scanner, storage, loc, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(records Records, tags Vocabulary, scanner scanning.Scanner, storage record.Storage, loc *time.Location, idGen IDGenerator, timeSrc TimeSource) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		records:     records,
		tags:        tags,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		location:    loc,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// sanitizeFilename strips the long, symbol-laden names phone cameras produce
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "photo"
	}
	return base + ext
}

// FormatMoney groups thousands with commas, e.g. 50000 -> "50,000"
func FormatMoney(amount int64) string {
	return humanize.Comma(amount)
}

// ParseFormattedMoney reads an amount typed into the amount field. Commas, dots and spaces
// used as thousands separators are ignored.
func ParseFormattedMoney(text string) (int64, error) {
	cleaned := strings.NewReplacer(",", "", ".", "", " ", "").Replace(strings.TrimSpace(text))
	if cleaned == "" {
		return 0, fmt.Errorf("%w: amount is required", ErrValidation)
	}
	amount, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not a number", ErrValidation, text)
	}
	if amount < 0 {
		return 0, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	return amount, nil
}

// Analyze stores a captured photo and asks the scanner what it shows. A failed
// classification still yields a draft with default fields and AnalysisError set,
// so the user can fill it in by hand.
func (s *Service) Analyze(ctx context.Context, filename string, data []byte, contentType string) (*Draft, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty photo", ErrValidation)
	}

	id := s.idGenerator.Generate()
	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving photo: %w", err)
	}

	reply, err := s.scanner.Analyze(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to analyze photo",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return &Draft{
			ImageURI:      savedName,
			AmountText:    FormatMoney(0),
			AnalysisError: err.Error(),
		}, nil
	}

	analysis := scanning.ParseReply(reply)
	recipient := analysis.Recipient
	if recipient == scanning.RecipientNotFound {
		recipient = ""
	}

	slog.Info("Analyzed photo", "image", savedName, "amount", analysis.Amount)
	return &Draft{
		ImageURI:   savedName,
		Recipient:  recipient,
		Amount:     analysis.Amount,
		AmountText: FormatMoney(analysis.Amount),
		Reply:      reply,
	}, nil
}

// Classify runs the scanner over a base64 encoded image and returns the raw reply
func (s *Service) Classify(ctx context.Context, encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("%w: image is required", ErrValidation)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: image is not valid base64", ErrValidation)
	}
	reply, err := s.scanner.Analyze(ctx, data, http.DetectContentType(data))
	if err != nil {
		return "", fmt.Errorf("classifying image: %w", err)
	}
	return reply, nil
}

// Save validates a confirmed draft, grows the hashtag vocabulary and stores the record
func (s *Service) Save(req SaveRequest) (*record.Record, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	amount, err := ParseFormattedMoney(req.Amount)
	if err != nil {
		return nil, err
	}

	imageURI := strings.TrimSpace(req.ImageURI)
	if imageURI == "" {
		imageURI = PlaceholderImage
	}

	if err := s.addToVocabulary(req.Hashtags); err != nil {
		return nil, err
	}

	rec, err := s.records.Create(record.Draft{
		Recipient: req.Recipient,
		Amount:    amount,
		ImageURI:  imageURI,
		CreatedAt: s.timeSource.Now(),
		Hashtags:  req.Hashtags,
	})
	if err != nil {
		return nil, fmt.Errorf("saving record: %w", err)
	}
	return rec, nil
}

// Update replaces the recipient, amount and hashtags of a stored record
func (s *Service) Update(id int64, req UpdateRequest) (*record.Record, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	amount, err := ParseFormattedMoney(req.Amount)
	if err != nil {
		return nil, err
	}

	if err := s.addToVocabulary(req.Hashtags); err != nil {
		return nil, err
	}

	rec, err := s.records.Update(&record.Record{
		ID:        id,
		Recipient: req.Recipient,
		Amount:    amount,
		Hashtags:  req.Hashtags,
	})
	if err != nil {
		return nil, fmt.Errorf("updating record: %w", err)
	}
	return rec, nil
}

// Get retrieves a record by ID
func (s *Service) Get(id int64) (*record.Record, error) {
	rec, err := s.records.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return rec, nil
}

// List returns the records matching opts and their total
func (s *Service) List(opts query.Options) (query.View, error) {
	records, err := s.records.ReadAll()
	if err != nil {
		return query.View{}, fmt.Errorf("listing records: %w", err)
	}
	return query.Apply(records, opts), nil
}

// Delete removes a record and then its photo, unless another record still shows it
func (s *Service) Delete(id int64) error {
	rec, err := s.records.Get(id)
	if err != nil {
		return fmt.Errorf("getting record for deletion: %w", err)
	}

	if err := s.records.Delete(id); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}

	if rec.ImageURI == PlaceholderImage || rec.ImageURI == "" {
		return nil
	}

	// Saving the same draft twice leaves two records on one photo
	remaining, err := s.records.ReadAll()
	if err != nil {
		slog.Warn("Keeping photo, could not check other records", "image", rec.ImageURI, "error", err)
		return nil
	}
	for _, other := range remaining {
		if other.ImageURI == rec.ImageURI {
			return nil
		}
	}

	if err := s.storage.Delete(rec.ImageURI); err != nil {
		slog.Warn("Failed to delete photo", "image", rec.ImageURI, "error", err)
	}
	return nil
}

// Photo returns the stored photo of a record and its detected content type
func (s *Service) Photo(id int64) ([]byte, string, error) {
	rec, err := s.records.Get(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting record: %w", err)
	}
	if rec.ImageURI == PlaceholderImage || rec.ImageURI == "" {
		return nil, "", fmt.Errorf("%w: record %d has no photo", record.ErrNotFound, id)
	}

	data, err := s.storage.Get(rec.ImageURI)
	if err != nil {
		return nil, "", fmt.Errorf("getting photo: %w", err)
	}
	return data, http.DetectContentType(data), nil
}

// Hashtags returns the hashtag vocabulary
func (s *Service) Hashtags() ([]string, error) {
	tags, err := s.tags.GetAll()
	if err != nil {
		return nil, fmt.Errorf("getting hashtags: %w", err)
	}
	return tags, nil
}

// AddHashtags adds tags to the vocabulary without touching any record
func (s *Service) AddHashtags(tags []string) ([]string, error) {
	if err := s.validate.Struct(hashtagsRequest{Hashtags: tags}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	vocabulary, err := s.tags.AddMany(tags)
	if err != nil {
		return nil, fmt.Errorf("adding hashtags: %w", err)
	}
	return vocabulary, nil
}

// Export builds the report for the records matching opts, dated in the service's location
func (s *Service) Export(opts query.Options) (export.Data, time.Time, error) {
	view, err := s.List(opts)
	if err != nil {
		return export.Data{}, time.Time{}, err
	}
	now := s.timeSource.Now().In(s.location)
	return export.Prepare(view.Records, now), now, nil
}

// Reset removes every record and empties the hashtag vocabulary. Photos stay on disk.
func (s *Service) Reset() error {
	if err := s.records.Reset(); err != nil {
		return fmt.Errorf("resetting records: %w", err)
	}
	if err := s.tags.Reset(); err != nil {
		return fmt.Errorf("resetting hashtags: %w", err)
	}
	slog.Info("Ledger reset")
	return nil
}

func (s *Service) addToVocabulary(tags []string) error {
	if len(record.NormalizeHashtags(tags)) == 0 {
		return nil
	}
	if _, err := s.tags.AddMany(tags); err != nil {
		return fmt.Errorf("updating hashtags: %w", err)
	}
	return nil
}
