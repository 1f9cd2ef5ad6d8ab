package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

const (
	// MetaBucket holds schema bookkeeping
	MetaBucket = "meta"
	// SchemaVersionKey is the meta key holding the schema version
	SchemaVersionKey = "schema_version"
	// CurrentSchemaVersion is bumped when the on-disk layout changes
	CurrentSchemaVersion uint64 = 1

	// DBFileName is the BBolt file created inside the data directory
	DBFileName = "aegisgate.db"
)

// Store wraps the embedded BBolt database holding audit events.
type Store struct {
	db     *bbolt.DB
	mu     sync.RWMutex
	logger *zap.SugaredLogger
	path   string
}

// NewStore opens (or creates) the event database under dataDir.
func NewStore(dataDir string, logger *zap.SugaredLogger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bbolt.Open(dbPath, 0o644, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		logger.Warnf("Failed to open event database on first attempt: %v", err)

		// A stale lock from a crashed process shows up as a timeout.
		// Back the file up, clear it, and retry once.
		if err == errors.ErrTimeout {
			backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
			logger.Infof("Database timeout detected, backing up to %s", backupPath)

			if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
				logger.Warnf("Failed to create backup: %v", cpErr)
			}
			if rmErr := os.Remove(dbPath); rmErr != nil {
				logger.Warnf("Failed to remove locked database file: %v", rmErr)
			}

			db, err = bbolt.Open(dbPath, 0o644, &bbolt.Options{
				Timeout: 5 * time.Second,
			})
		}

		if err != nil {
			return nil, fmt.Errorf("failed to open event database after recovery attempt: %w", err)
		}
	}

	s := &Store{
		db:     db,
		logger: logger,
		path:   dbPath,
	}

	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *bbolt.DB {
	return s.db
}

// initBuckets creates required buckets and sets the schema version
func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{EventsBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		metaBucket := tx.Bucket([]byte(MetaBucket))
		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return metaBucket.Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// GetSchemaVersion returns the current schema version
func (s *Store) GetSchemaVersion() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(MetaBucket))
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}
		versionBytes := bucket.Get([]byte(SchemaVersionKey))
		if versionBytes == nil {
			return nil
		}
		version = binary.LittleEndian.Uint64(versionBytes)
		return nil
	})

	return version, err
}

// Backup writes a consistent copy of the database to destPath
func (s *Store) Backup(destPath string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(destPath, 0o644)
	})
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}

// RetentionConfig bounds how long and how many events are kept.
type RetentionConfig struct {
	MaxAge        time.Duration `json:"max_age" mapstructure:"max_age"`
	MaxCount      int           `json:"max_count" mapstructure:"max_count"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// DefaultRetentionConfig keeps 30 days / 100k events, sweeping every 10 minutes.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		MaxAge:        30 * 24 * time.Hour,
		MaxCount:      100_000,
		SweepInterval: 10 * time.Minute,
	}
}

// RunRetention sweeps expired and excess events until ctx is cancelled.
// An initial sweep runs immediately so restarts do not defer cleanup.
func (s *Store) RunRetention(ctx context.Context, cfg RetentionConfig) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultRetentionConfig().SweepInterval
	}

	s.sweep(cfg)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(cfg)
		}
	}
}

func (s *Store) sweep(cfg RetentionConfig) {
	if cfg.MaxAge > 0 {
		if _, err := s.PruneOldEvents(cfg.MaxAge); err != nil {
			s.logger.Errorw("Retention sweep failed pruning by age", "error", err)
		}
	}
	if cfg.MaxCount > 0 {
		if _, err := s.PruneExcessEvents(cfg.MaxCount, 0.9); err != nil {
			s.logger.Errorw("Retention sweep failed pruning by count", "error", err)
		}
	}
}
