package storage

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
)

// eventKey generates a BBolt key for an event record.
// Key format: {timestamp_ns}_{ulid} for natural chronological ordering.
// The 20-digit nanosecond timestamp keeps lexicographic and time order aligned.
func eventKey(timestamp time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", timestamp.UnixNano(), id))
}

// parseEventKey extracts the ULID from an event key.
// Returns empty string if key format is invalid.
func parseEventKey(key []byte) string {
	keyStr := string(key)
	if len(keyStr) < 22 { // 20 digits + underscore + at least 1 char for id
		return ""
	}
	return keyStr[21:]
}

// SaveEvent stores an audit event record.
// ID and Timestamp are assigned when unset.
func (s *Store) SaveEvent(record *EventRecord) error {
	if record == nil {
		return fmt.Errorf("event record cannot be nil")
	}

	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(EventsBucket))
		if err != nil {
			return fmt.Errorf("failed to create events bucket: %w", err)
		}

		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal event record: %w", err)
		}

		if err := bucket.Put(eventKey(record.Timestamp, record.ID), data); err != nil {
			return fmt.Errorf("failed to store event record: %w", err)
		}
		return nil
	})
}

// SaveEventAsync persists an event without blocking the producer.
// Failures are logged; audit producers never see storage errors.
func (s *Store) SaveEventAsync(record *EventRecord) {
	go func() {
		if err := s.SaveEvent(record); err != nil {
			s.logger.Errorw("Failed to save event record async",
				"id", record.ID,
				"event", record.Event,
				"error", err)
		}
	}()
}

// GetEvent retrieves an event record by ID.
// Returns nil if the record is not found.
func (s *Store) GetEvent(id string) (*EventRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("event ID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var record *EventRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(EventsBucket))
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if parseEventKey(k) == id {
				record = &EventRecord{}
				if err := record.UnmarshalBinary(v); err != nil {
					return fmt.Errorf("failed to unmarshal event record: %w", err)
				}
				return nil
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListEvents returns event records matching the filter, newest first.
// The returned cursor resumes the next page; it is empty when the page
// was not filled.
func (s *Store) ListEvents(filter EventFilter) ([]*EventRecord, string, error) {
	filter.Validate()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*EventRecord
	var nextCursor string

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(EventsBucket))
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		var k, v []byte
		if filter.Cursor != "" {
			// Resume strictly before the cursor key. Seek lands at the key
			// itself or the next larger one; either way Prev is the first
			// older record. A nil Seek means every key is older.
			k, _ = cursor.Seek([]byte(filter.Cursor))
			if k == nil {
				k, v = cursor.Last()
			} else {
				k, v = cursor.Prev()
			}
		} else {
			k, v = cursor.Last()
		}

		for ; k != nil; k, v = cursor.Prev() {
			var record EventRecord
			if err := record.UnmarshalBinary(v); err != nil {
				s.logger.Warnw("Failed to unmarshal event record",
					"key", string(k),
					"error", err)
				continue
			}

			// Keys are time-ordered, so everything past Since is done.
			if !filter.Since.IsZero() && record.Timestamp.Before(filter.Since) {
				break
			}
			if !filter.Matches(&record) {
				continue
			}

			rec := record
			records = append(records, &rec)
			if len(records) >= filter.Limit {
				nextCursor = string(k)
				break
			}
		}
		return nil
	})

	return records, nextCursor, err
}

// CountEvents returns the total number of stored events.
func (s *Store) CountEvents() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(EventsBucket))
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})

	return count, err
}

// PruneOldEvents deletes event records older than maxAge.
// Returns the number of records deleted.
func (s *Store) PruneOldEvents(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	cutoffKey := eventKey(cutoff, "")

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(EventsBucket))
		if bucket == nil {
			return nil
		}

		var keysToDelete [][]byte
		cursor := bucket.Cursor()

		// Older records have smaller keys; stop at the cutoff.
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			if string(k) < string(cutoffKey) {
				keysToDelete = append(keysToDelete, append([]byte{}, k...))
			} else {
				break
			}
		}

		for _, key := range keysToDelete {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete old event: %w", err)
			}
			deleted++
		}
		return nil
	})

	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		s.logger.Infow("Pruned old event records",
			"deleted", deleted,
			"max_age", maxAge.String())
	}
	return deleted, nil
}

// PruneExcessEvents deletes oldest records when count exceeds maxRecords.
// Deletes down to targetPercent of maxRecords (default 90%).
// Returns the number of records deleted.
func (s *Store) PruneExcessEvents(maxRecords int, targetPercent float64) (int, error) {
	if targetPercent <= 0 || targetPercent > 1 {
		targetPercent = 0.9
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(EventsBucket))
		if bucket == nil {
			return nil
		}

		count := bucket.Stats().KeyN
		if count <= maxRecords {
			return nil
		}

		targetCount := int(float64(maxRecords) * targetPercent)
		toDelete := count - targetCount

		var keysToDelete [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && len(keysToDelete) < toDelete; k, _ = cursor.Next() {
			keysToDelete = append(keysToDelete, append([]byte{}, k...))
		}

		for _, key := range keysToDelete {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete excess event: %w", err)
			}
			deleted++
		}
		return nil
	})

	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		s.logger.Infow("Pruned excess event records",
			"deleted", deleted,
			"max_records", maxRecords)
	}
	return deleted, nil
}
