package client

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/cockroachdb/pebble"
)

// Cache persists conversation summaries across sessions so the list
// renders instantly on startup, before the network catches up. Writes are
// fire-and-forget: a cache failure is logged and the session continues.
type Cache struct {
	db *pebble.DB
}

const cacheSummaryPrefix = "summary:"

// OpenCache opens (or creates) the local cache at dir.
func OpenCache(dir string) (*Cache, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}

func summaryKey(conv ConversationKey) []byte {
	return []byte(cacheSummaryPrefix + conv.Kind + ":" + conv.ID)
}

// PutSummaries upserts a batch of summaries in one write. Volatile fields
// (unseen, presence) are not persisted; they are recomputed per session.
func (c *Cache) PutSummaries(summaries []ConversationSummary) {
	batch := c.db.NewBatch()
	defer batch.Close()

	for _, s := range summaries {
		s.Unseen = 0
		s.Online = false
		data, err := json.Marshal(s)
		if err != nil {
			log.Printf("cache: marshal summary %s: %v", s.Conv.ID, err)
			continue
		}
		if err := batch.Set(summaryKey(s.Conv), data, nil); err != nil {
			log.Printf("cache: batch summary %s: %v", s.Conv.ID, err)
		}
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		log.Printf("cache: commit summaries: %v", err)
	}
}

// PutSummary upserts a single summary, fire-and-forget.
func (c *Cache) PutSummary(s ConversationSummary) {
	c.PutSummaries([]ConversationSummary{s})
}

// Summaries loads every cached summary.
func (c *Cache) Summaries() ([]ConversationSummary, error) {
	lower := []byte(cacheSummaryPrefix)
	upper := []byte(cacheSummaryPrefix + "\xff")
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("cache iterator: %w", err)
	}
	defer iter.Close()

	var out []ConversationSummary
	for iter.First(); iter.Valid(); iter.Next() {
		var s ConversationSummary
		if err := json.Unmarshal(iter.Value(), &s); err != nil {
			log.Printf("cache: decode %s: %v", iter.Key(), err)
			continue
		}
		out = append(out, s)
	}
	return out, iter.Error()
}

// DeleteSummary removes one conversation from the cache.
func (c *Cache) DeleteSummary(conv ConversationKey) {
	if err := c.db.Delete(summaryKey(conv), pebble.NoSync); err != nil {
		log.Printf("cache: delete summary %s: %v", conv.ID, err)
	}
}
