package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketVectors = []byte("vectors")
	bucketChunks  = []byte("chunks")

	keyNextID      = []byte("__next_id__")
	keyIndexed     = []byte("__indexed__")
	keyDimensions  = []byte("__dimensions__")
	keyHNSWSnapshot = []byte("hnsw_snapshot")
)

// BoltDenseStore is the single memory-mapped bbolt environment holding both
// the chunk metadata ("chunks" bucket, including the monotonic chunk_id
// counter under a reserved key) and the HNSW graph snapshot ("vectors"
// bucket). It satisfies DenseStore.
type BoltDenseStore struct {
	mu      sync.RWMutex
	db      *bolt.DB
	graph   *hnswGraph
	config  VectorStoreConfig
	indexed bool
}

// NewBoltDenseStore opens (creating if absent) the bbolt environment at
// path, e.g. "<db>/demongrep.bolt".
func NewBoltDenseStore(path string, cfg VectorStoreConfig) (*BoltDenseStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt environment: %w", err)
	}

	s := &BoltDenseStore{db: db}

	err = db.Update(func(tx *bolt.Tx) error {
		chunks, err := tx.CreateBucketIfNotExists(bucketChunks)
		if err != nil {
			return err
		}
		vectors, err := tx.CreateBucketIfNotExists(bucketVectors)
		if err != nil {
			return err
		}

		if dimBytes := vectors.Get(keyDimensions); dimBytes != nil {
			cfg.Dimensions = int(binary.BigEndian.Uint32(dimBytes))
		} else {
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, uint32(cfg.Dimensions))
			if err := vectors.Put(keyDimensions, buf); err != nil {
				return err
			}
		}

		if chunks.Get(keyNextID) == nil {
			if err := chunks.Put(keyNextID, encodeUint32(0)); err != nil {
				return err
			}
		}

		s.graph = newHNSWGraph(cfg)
		s.config = cfg

		if snap := vectors.Get(keyHNSWSnapshot); snap != nil {
			if err := s.graph.restore(bytes.NewReader(snap)); err != nil {
				return fmt.Errorf("restore hnsw snapshot: %w", err)
			}
		}

		s.indexed = vectors.Get(keyIndexed) != nil && vectors.Get(keyIndexed)[0] == 1
		if vectors.Get(keyIndexed) == nil {
			s.indexed = true // freshly created, empty store needs no build
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func encodeUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

func decodeUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

func (s *BoltDenseStore) setIndexedLocked(tx *bolt.Tx, indexed bool) error {
	vectors := tx.Bucket(bucketVectors)
	val := byte(0)
	if indexed {
		val = 1
	}
	return vectors.Put(keyIndexed, []byte{val})
}

// InsertChunks allocates chunk IDs and persists the records (without
// vectors). Marks the store dirty.
func (s *BoltDenseStore) InsertChunks(ctx context.Context, chunks []*ChunkRecord) ([]uint32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint32, len(chunks))
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketChunks)
		next := decodeUint32(bucket.Get(keyNextID))

		for i, c := range chunks {
			id := next
			next++
			c.ChunkID = id
			ids[i] = id

			data, err := encodeChunkRecord(c)
			if err != nil {
				return fmt.Errorf("encode chunk %d: %w", id, err)
			}
			if err := bucket.Put(encodeUint32(id), data); err != nil {
				return err
			}
		}

		if err := bucket.Put(keyNextID, encodeUint32(next)); err != nil {
			return err
		}
		return s.setIndexedLocked(tx, false)
	})
	if err != nil {
		return nil, err
	}
	s.indexed = false
	return ids, nil
}

// SetVectors attaches embeddings to already-inserted chunk IDs.
func (s *BoltDenseStore) SetVectors(ctx context.Context, chunkIDs []uint32, vectors [][]float32) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("chunkIDs and vectors length mismatch: %d vs %d", len(chunkIDs), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketChunks)
		for i, id := range chunkIDs {
			if len(vectors[i]) != s.config.Dimensions {
				return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vectors[i])}
			}
			raw := bucket.Get(encodeUint32(id))
			if raw == nil {
				continue
			}
			record, err := decodeChunkRecord(raw)
			if err != nil {
				return err
			}
			record.Vector = vectors[i]
			data, err := encodeChunkRecord(record)
			if err != nil {
				return err
			}
			if err := bucket.Put(encodeUint32(id), data); err != nil {
				return err
			}
		}
		return s.setIndexedLocked(tx, false)
	})
	if err != nil {
		return err
	}
	s.indexed = false
	return nil
}

// BuildIndex rebuilds the HNSW graph from every chunk record that carries a
// vector and snapshots it into the vectors bucket.
func (s *BoltDenseStore) BuildIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pairs []struct {
		ChunkID uint32
		Vector  []float32
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketChunks)
		return bucket.ForEach(func(k, v []byte) error {
			if bytes.Equal(k, keyNextID) {
				return nil
			}
			record, err := decodeChunkRecord(v)
			if err != nil {
				return err
			}
			if record.Vector == nil {
				return nil
			}
			if len(record.Vector) != s.config.Dimensions {
				return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(record.Vector)}
			}
			pairs = append(pairs, struct {
				ChunkID uint32
				Vector  []float32
			}{record.ChunkID, record.Vector})
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.graph.rebuildFrom(pairs)

	err = s.db.Update(func(tx *bolt.Tx) error {
		var buf bytes.Buffer
		if err := s.graph.snapshot(&buf); err != nil {
			return err
		}
		vectors := tx.Bucket(bucketVectors)
		if err := vectors.Put(keyHNSWSnapshot, buf.Bytes()); err != nil {
			return err
		}
		return s.setIndexedLocked(tx, true)
	})
	if err != nil {
		return err
	}
	s.indexed = true
	return nil
}

// Search returns the k nearest chunk IDs to query.
func (s *BoltDenseStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.indexed {
		return nil, ErrNotIndexed
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	return s.graph.search(query, k), nil
}

// DeleteChunks removes chunk records. Marks the store dirty.
func (s *BoltDenseStore) DeleteChunks(ctx context.Context, chunkIDs []uint32) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketChunks)
		for _, id := range chunkIDs {
			if err := bucket.Delete(encodeUint32(id)); err != nil {
				return err
			}
		}
		return s.setIndexedLocked(tx, false)
	})
	if err != nil {
		return err
	}
	s.indexed = false
	return nil
}

// GetChunk returns a copy of the stored record, or false if absent.
func (s *BoltDenseStore) GetChunk(ctx context.Context, chunkID uint32) (*ChunkRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record *ChunkRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketChunks).Get(encodeUint32(chunkID))
		if raw == nil {
			return nil
		}
		var err error
		record, err = decodeChunkRecord(raw)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return record, record != nil, nil
}

// GetChunks batch-retrieves records, skipping any ID that isn't found.
func (s *BoltDenseStore) GetChunks(ctx context.Context, chunkIDs []uint32) ([]*ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*ChunkRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketChunks)
		for _, id := range chunkIDs {
			raw := bucket.Get(encodeUint32(id))
			if raw == nil {
				continue
			}
			record, err := decodeChunkRecord(raw)
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// Stats reports chunk count, declared dimensionality, and the indexed flag.
func (s *BoltDenseStore) Stats(ctx context.Context) (DenseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketChunks)
		return bucket.ForEach(func(k, v []byte) error {
			if !bytes.Equal(k, keyNextID) {
				count++
			}
			return nil
		})
	})
	if err != nil {
		return DenseStats{}, err
	}

	return DenseStats{
		ChunkCount: count,
		Dimensions: s.config.Dimensions,
		Indexed:    s.indexed,
	}, nil
}

// Clear removes every record and resets the store to an empty, indexed
// state.
func (s *BoltDenseStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketChunks); err != nil {
			return err
		}
		if err := tx.DeleteBucket(bucketVectors); err != nil {
			return err
		}
		chunks, err := tx.CreateBucket(bucketChunks)
		if err != nil {
			return err
		}
		vectors, err := tx.CreateBucket(bucketVectors)
		if err != nil {
			return err
		}
		if err := chunks.Put(keyNextID, encodeUint32(0)); err != nil {
			return err
		}
		if err := vectors.Put(keyDimensions, encodeUint32(uint32(s.config.Dimensions))); err != nil {
			return err
		}
		return s.setIndexedLocked(tx, true)
	})
	if err != nil {
		return err
	}

	s.graph = newHNSWGraph(s.config)
	s.indexed = true
	return nil
}

// Close releases the bbolt environment.
func (s *BoltDenseStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func encodeChunkRecord(c *ChunkRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeChunkRecord(data []byte) (*ChunkRecord, error) {
	var c ChunkRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

var _ DenseStore = (*BoltDenseStore)(nil)
