package candbolt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agaabrieel/bittorrent-live/pkg/discovery"
)

const (
	bMeta       = "meta"
	bCandidates = "candidates"
	kSavedAt    = "saved_at"

	defaultTO = 2 * time.Second
)

// Store keeps the last saved candidate snapshot in a BoltDB file.
type Store struct {
	db *bolt.DB
}

type record struct {
	StreamHash string `json:"stream"`
	Addr       string `json:"addr"`
}

// Open opens (or creates) a BoltDB database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bMeta)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bCandidates)); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save replaces the stored snapshot with entries, keeping their order.
func (s *Store) Save(entries []discovery.CandidateEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bCandidates)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket([]byte(bCandidates))
		if err != nil {
			return err
		}

		for i, e := range entries {
			val, err := json.Marshal(record{StreamHash: e.StreamHash, Addr: e.Addr.String()})
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(uint64(i)), val); err != nil {
				return err
			}
		}

		return tx.Bucket([]byte(bMeta)).Put([]byte(kSavedAt), encodeI64(time.Now().UnixNano()))
	})
}

// Load returns the stored snapshot. Records that no longer decode are
// skipped.
func (s *Store) Load() ([]discovery.CandidateEntry, error) {
	var out []discovery.CandidateEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bCandidates))
		return b.ForEach(func(_, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return nil
			}
			addr, err := discovery.ParsePeerAddress(r.Addr)
			if err != nil {
				return nil
			}
			out = append(out, discovery.CandidateEntry{StreamHash: r.StreamHash, Addr: addr})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	return out, nil
}

// SavedAt reports when Save last ran. It is zero before the first save.
func (s *Store) SavedAt() (time.Time, error) {
	var out time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(bMeta)).Get([]byte(kSavedAt)); v != nil {
			out = time.Unix(0, decodeI64(v))
		}
		return nil
	})
	return out, err
}

func seqKey(i uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], i)
	return b[:]
}

func encodeI64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func decodeI64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
