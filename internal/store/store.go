// Package store persists the canonical property dataset. Records live in
// memory; every mutating operation rewrites the backing CSV through an atomic
// temp-file replace, so the file on disk is always a complete dataset.
package store

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"immopipe/internal/filter"
	"immopipe/internal/models"
)

// Store owns the on-disk dataset and is the sole writer of record identity
// (uuid) and last_modified. Safe for concurrent use.
type Store struct {
	path   string
	logger *logrus.Logger
	now    func() time.Time

	mu      sync.RWMutex
	records []*models.PropertyRecord
}

// MergeResult reports the outcome of a merge.
type MergeResult struct {
	TotalProcessed int `json:"total_processed"`
	Updated        int `json:"updated"`
	Added          int `json:"added"`
}

// DeleteResult reports the outcome of a delete.
type DeleteResult struct {
	OriginalCount  int `json:"original_count"`
	DeletedCount   int `json:"deleted_count"`
	RemainingCount int `json:"remaining_count"`
}

// DateRange bounds the sale dates present in the dataset.
type DateRange struct {
	Oldest string `json:"oldest"`
	Newest string `json:"newest"`
}

// Summary describes the dataset without returning it.
type Summary struct {
	TotalEntries  int        `json:"total_entries"`
	DateRange     *DateRange `json:"date_range,omitempty"`
	Cities        []string   `json:"cities"`
	StorageSizeMB float64    `json:"storage_size_mb"`
}

// New opens the store at path, loading the existing dataset when the file is
// present. Legacy column names in an existing file are renamed on load.
func New(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Store{path: path, logger: logger, now: time.Now}

	table, err := ReadTable(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Infof("No dataset at %s yet, starting empty", path)
			return s, nil
		}
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	if len(table.Header) == 0 {
		return s, nil
	}
	records, err := s.normalizeTable(table)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	s.records = records
	logger.Infof("Loaded %d properties from %s", len(records), path)
	return s, nil
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns deep copies of all records in storage order. Callers may
// mutate the copies freely and merge them back with MergeRecords.
func (s *Store) Snapshot() []*models.PropertyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frame := make([]*models.PropertyRecord, len(s.records))
	for i, rec := range s.records {
		frame[i] = rec.Clone()
	}
	return frame
}

// NormalizeAndMerge renames a raw table to the canonical schema, merges it
// into the dataset and persists the result.
func (s *Store) NormalizeAndMerge(table *Table) (MergeResult, error) {
	records, err := s.normalizeTable(table)
	if err != nil {
		return MergeResult{}, err
	}
	return s.MergeRecords(records)
}

// MergeRecords merges canonical records into the dataset and persists the
// result. A record matches by uuid when it carries one, then by exact
// (address, city, sale_date). Matches are replaced wholesale keeping the
// existing uuid; the rest are appended, with a fresh uuid unless the input
// brought its own. Every processed record gets a fresh last_modified.
func (s *Store) MergeRecords(records []*models.PropertyRecord) (MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUUID := make(map[string]int, len(s.records))
	byKey := make(map[string]int, len(s.records))
	for i, rec := range s.records {
		if rec.UUID != "" {
			byUUID[rec.UUID] = i
		}
		byKey[compositeKey(rec)] = i
	}

	timestamp := s.now().Format(models.TimestampLayout)
	result := MergeResult{TotalProcessed: len(records)}
	for _, rec := range records {
		incoming := rec.Clone()
		incoming.LastModified = timestamp

		idx, ok := 0, false
		if incoming.UUID != "" {
			idx, ok = byUUID[incoming.UUID]
		}
		if !ok {
			idx, ok = byKey[compositeKey(incoming)]
		}
		if ok {
			existing := s.records[idx]
			incoming.UUID = existing.UUID
			delete(byKey, compositeKey(existing))
			byKey[compositeKey(incoming)] = idx
			s.records[idx] = incoming
			result.Updated++
			continue
		}

		if incoming.UUID == "" {
			incoming.UUID = uuid.NewString()
		}
		byUUID[incoming.UUID] = len(s.records)
		byKey[compositeKey(incoming)] = len(s.records)
		s.records = append(s.records, incoming)
		result.Added++
	}

	if err := s.flushLocked(); err != nil {
		return MergeResult{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"processed": result.TotalProcessed,
		"updated":   result.Updated,
		"added":     result.Added,
	}).Info("Merged records into dataset")
	return result, nil
}

// Query returns copies of the records matching a filter expression. An empty
// expression returns the whole dataset.
func (s *Store) Query(expr string) ([]models.PropertyRecord, error) {
	var f *filter.Filter
	if strings.TrimSpace(expr) != "" {
		var err error
		if f, err = filter.Parse(expr); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]models.PropertyRecord, 0, len(s.records))
	for _, rec := range s.records {
		if f == nil || f.Matches(rec) {
			matched = append(matched, *rec.Clone())
		}
	}
	return matched, nil
}

// Delete removes the records matching a filter expression and persists the
// remainder. The expression is mandatory: unlike Query, an empty expression
// is an error rather than "everything".
func (s *Store) Delete(expr string) (DeleteResult, error) {
	f, err := filter.Parse(expr)
	if err != nil {
		return DeleteResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := DeleteResult{OriginalCount: len(s.records)}
	kept := s.records[:0]
	for _, rec := range s.records {
		if f.Matches(rec) {
			result.DeletedCount++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	result.RemainingCount = len(kept)

	if result.DeletedCount > 0 {
		if err := s.flushLocked(); err != nil {
			return DeleteResult{}, err
		}
	}
	s.logger.WithFields(logrus.Fields{
		"filter":    expr,
		"deleted":   result.DeletedCount,
		"remaining": result.RemainingCount,
	}).Info("Deleted records from dataset")
	return result, nil
}

// Summary reports row count, sale date range, distinct cities and backing
// file size.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{TotalEntries: len(s.records), Cities: []string{}}
	var oldest, newest time.Time
	seen := make(map[string]bool)
	for _, rec := range s.records {
		if rec.City != "" && !seen[rec.City] {
			seen[rec.City] = true
			sum.Cities = append(sum.Cities, rec.City)
		}
		t, err := models.ParseDate(rec.SaleDate)
		if err != nil {
			continue
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
		if newest.IsZero() || t.After(newest) {
			newest = t
		}
	}
	sort.Strings(sum.Cities)
	if !oldest.IsZero() {
		sum.DateRange = &DateRange{
			Oldest: oldest.Format(models.DateLayout),
			Newest: newest.Format(models.DateLayout),
		}
	}
	if info, err := os.Stat(s.path); err == nil {
		sum.StorageSizeMB = math.Round(float64(info.Size())/(1024*1024)*100) / 100
	}
	return sum
}

// Flush rewrites the backing file from the in-memory dataset.
func (s *Store) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if err := WriteRecords(s.path, s.records); err != nil {
		return fmt.Errorf("failed to persist dataset: %w", err)
	}
	return nil
}

// compositeKey identifies a record when no uuid is known.
func compositeKey(r *models.PropertyRecord) string {
	return r.Address + "\x1f" + r.City + "\x1f" + r.SaleDate
}
