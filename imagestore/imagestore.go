// Package imagestore keeps uploaded and generated image blobs, plus small
// per-client preference records, in a local bitcask database. Callers hold
// opaque refs; nothing outside this package assumes file-system paths.
package imagestore

import (
	"encoding/json"
	"time"

	"stylebird/logger"

	"git.mills.io/prologic/bitcask"
	"github.com/google/uuid"
)

type Store struct {
	db *bitcask.Bitcask
}

// Open opens or creates the database at path. The value size limit is raised
// to 10MB to fit full-resolution uploads.
func Open(path string) (*Store, error) {
	db, err := bitcask.Open(path, bitcask.WithMaxValueSize(10*1024*1024))
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}

	go func() {
		for {
			time.Sleep(24 * time.Hour)
			s.Merge()
		}
	}()

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Merge reclaims space from deleted and expired entries.
func (s *Store) Merge() {
	logger.Info("Merging image store to reclaim space...")
	if err := s.db.Merge(); err != nil {
		logger.Error("Error merging image store", "error", err)
	}
}

// PutImage stores an image blob and returns a fresh opaque ref for it.
func (s *Store) PutImage(data []byte) (string, error) {
	ref := uuid.NewString()
	compressed, err := compress(data)
	if err != nil {
		return "", err
	}
	if err := s.db.Put(cacheKey(ref), compressed); err != nil {
		return "", err
	}
	return ref, nil
}

// PutImageExpireHours stores an image blob that expires after the given
// number of hours. Used for uploads so abandoned jobs clean themselves up.
func (s *Store) PutImageExpireHours(data []byte, hours int) (string, error) {
	ref := uuid.NewString()
	compressed, err := compress(data)
	if err != nil {
		return "", err
	}
	if err := s.db.PutWithTTL(cacheKey(ref), compressed, time.Hour*time.Duration(hours)); err != nil {
		return "", err
	}
	return ref, nil
}

// GetImage resolves a ref back to the stored blob.
func (s *Store) GetImage(ref string) ([]byte, error) {
	compressed, err := s.db.Get(cacheKey(ref))
	if err != nil {
		return nil, err
	}
	return decompress(compressed)
}

func (s *Store) Has(ref string) bool {
	return s.db.Has(cacheKey(ref))
}

// Delete removes a blob. Satisfies the scheduler's resource release contract.
func (s *Store) Delete(ref string) error {
	return s.db.Delete(cacheKey(ref))
}

// PutJSON stores a small JSON record, e.g. a client's saved generation
// parameters.
func (s *Store) PutJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	compressed, err := compress(data)
	if err != nil {
		return err
	}
	return s.db.Put(cacheKey(key), compressed)
}

// GetJSON loads a record stored with PutJSON.
func (s *Store) GetJSON(key string, value any) error {
	compressed, err := s.db.Get(cacheKey(key))
	if err != nil {
		return err
	}
	data, err := decompress(compressed)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, value)
}
