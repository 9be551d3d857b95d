package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	recordsKey  = "records"
	hashtagsKey = "hashtags"
)

var (
	// ErrNotFound is returned when no live record has the requested ID
	ErrNotFound = errors.New("record not found")

	// ErrInvalidRecord is returned for values the store refuses to persist
	ErrInvalidRecord = errors.New("invalid record")

	// ErrCorrupt is returned when a stored collection cannot be decoded
	ErrCorrupt = errors.New("stored data is corrupt")
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Store persists all records as one JSON array under a single key.
// Every mutation rewrites the whole array.
type Store struct {
	kv         KV
	timeSource TimeSource

	mu          sync.Mutex
	initFlight  singleflight.Group
	initialized atomic.Bool
}

// NewStore creates a Store on top of kv
func NewStore(kv KV) *Store {
	return NewStoreWithClock(kv, &defaultTimeSource{})
}

// NewStoreWithClock creates a Store with a custom time source for testing
func NewStoreWithClock(kv KV, timeSource TimeSource) *Store {
	return &Store{kv: kv, timeSource: timeSource}
}

// Initialize creates the empty collection if it does not exist yet. Concurrent calls share
// one run, and once it has succeeded later calls return immediately.
func (s *Store) Initialize() error {
	if s.initialized.Load() {
		return nil
	}

	_, err, _ := s.initFlight.Do(recordsKey, func() (any, error) {
		if s.initialized.Load() {
			return nil, nil
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		existing, err := s.kv.Get(recordsKey)
		if err != nil {
			return nil, fmt.Errorf("checking collection: %w", err)
		}
		if existing == nil {
			if err := s.kv.Put(recordsKey, []byte("[]")); err != nil {
				return nil, fmt.Errorf("creating collection: %w", err)
			}
		}

		s.initialized.Store(true)
		return nil, nil
	})
	return err
}

// isInitialized reports whether Initialize has completed successfully
func (s *Store) isInitialized() bool {
	return s.initialized.Load()
}

// Create assigns the next ID (max existing ID + 1, or 1 when empty) and persists the record.
// Deleting the record with the highest ID lets the next Create reuse that ID.
func (s *Store) Create(draft Draft) (*Record, error) {
	if draft.Amount < 0 {
		return nil, fmt.Errorf("%w: amount %d is negative", ErrInvalidRecord, draft.Amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	var maxID int64
	for _, r := range records {
		if r.ID > maxID {
			maxID = r.ID
		}
	}

	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.timeSource.Now()
	}

	rec := &Record{
		ID:        maxID + 1,
		Recipient: recipientOrUnknown(draft.Recipient),
		Amount:    draft.Amount,
		ImageURI:  draft.ImageURI,
		CreatedAt: createdAt,
		Hashtags:  NormalizeHashtags(draft.Hashtags),
	}

	if err := s.save(append(records, rec)); err != nil {
		return nil, err
	}
	return rec, nil
}

// ReadAll returns every record in stored order
func (s *Store) ReadAll() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

// Get returns the record with the given ID
func (s *Store) Get(id int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
}

// Update replaces the recipient, amount and hashtags of the record with rec.ID.
// ImageURI and CreatedAt keep their stored values.
func (s *Store) Update(rec *Record) (*Record, error) {
	if rec.Amount < 0 {
		return nil, fmt.Errorf("%w: amount %d is negative", ErrInvalidRecord, rec.Amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	for i, existing := range records {
		if existing.ID != rec.ID {
			continue
		}
		updated := &Record{
			ID:        existing.ID,
			Recipient: recipientOrUnknown(rec.Recipient),
			Amount:    rec.Amount,
			ImageURI:  existing.ImageURI,
			CreatedAt: existing.CreatedAt,
			Hashtags:  NormalizeHashtags(rec.Hashtags),
		}
		records[i] = updated
		if err := s.save(records); err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, fmt.Errorf("%w: %d", ErrNotFound, rec.ID)
}

// Delete removes the record with the given ID
func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	for i, r := range records {
		if r.ID == id {
			remaining := append(records[:i:i], records[i+1:]...)
			return s.save(remaining)
		}
	}
	return fmt.Errorf("%w: %d", ErrNotFound, id)
}

// SearchByRecipient returns the records whose recipient contains q, ignoring case
func (s *Store) SearchByRecipient(q string) ([]*Record, error) {
	records, err := s.ReadAll()
	if err != nil {
		return nil, err
	}

	matches := make([]*Record, 0, len(records))
	for _, r := range records {
		if r.RecipientContains(q) {
			matches = append(matches, r)
		}
	}
	return matches, nil
}

// Reset empties the record collection. The vocabulary is emptied by TagIndex.Reset.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Put(recordsKey, []byte("[]")); err != nil {
		return fmt.Errorf("resetting records: %w", err)
	}
	return nil
}

// load must be called with s.mu held
func (s *Store) load() ([]*Record, error) {
	data, err := s.kv.Get(recordsKey)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	records := make([]*Record, 0)
	if data == nil {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: decoding records: %w", ErrCorrupt, err)
	}
	if records == nil {
		records = make([]*Record, 0)
	}
	return records, nil
}

// save must be called with s.mu held
func (s *Store) save(records []*Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}
	if err := s.kv.Put(recordsKey, data); err != nil {
		return fmt.Errorf("saving records: %w", err)
	}
	return nil
}

func recipientOrUnknown(recipient string) string {
	if strings.TrimSpace(recipient) == "" {
		return UnknownRecipient
	}
	return recipient
}
