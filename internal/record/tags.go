package record

import (
	"encoding/json"
	"fmt"
	"sync"
)

// TagIndex keeps the vocabulary of every hashtag ever entered. Tags are never removed,
// so a tag stays available as a filter after the last record using it is gone.
type TagIndex struct {
	kv KV
	mu sync.Mutex
}

// NewTagIndex creates a TagIndex sharing the store's substrate
func NewTagIndex(kv KV) *TagIndex {
	return &TagIndex{kv: kv}
}

// GetAll returns the vocabulary in insertion order; empty when nothing was stored yet
func (t *TagIndex) GetAll() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.load()
}

// AddMany adds the trimmed, non-empty tags that are not in the vocabulary yet and
// returns the resulting vocabulary
func (t *TagIndex) AddMany(tags []string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vocabulary, err := t.load()
	if err != nil {
		return nil, err
	}

	merged := NormalizeHashtags(append(vocabulary, tags...))
	if len(merged) == len(vocabulary) {
		return vocabulary, nil
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding hashtags: %w", err)
	}
	if err := t.kv.Put(hashtagsKey, data); err != nil {
		return nil, fmt.Errorf("saving hashtags: %w", err)
	}
	return merged, nil
}

// Reset empties the vocabulary. It is the only way a tag ever leaves it.
func (t *TagIndex) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.kv.Put(hashtagsKey, []byte("[]")); err != nil {
		return fmt.Errorf("resetting hashtags: %w", err)
	}
	return nil
}

func (t *TagIndex) load() ([]string, error) {
	data, err := t.kv.Get(hashtagsKey)
	if err != nil {
		return nil, fmt.Errorf("loading hashtags: %w", err)
	}

	vocabulary := make([]string, 0)
	if data == nil {
		return vocabulary, nil
	}
	if err := json.Unmarshal(data, &vocabulary); err != nil {
		return nil, fmt.Errorf("%w: decoding hashtags: %w", ErrCorrupt, err)
	}
	if vocabulary == nil {
		vocabulary = make([]string, 0)
	}
	return vocabulary, nil
}
