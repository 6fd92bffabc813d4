package store

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// hnswGraph wraps coder/hnsw's pure-Go HNSW implementation, mapping the
// graph's internal uint64 keys onto this database's uint32 chunk IDs.
//
// Deletions are lazy: the teacher's own hnsw.go found that removing the
// last node from a coder/hnsw graph corrupts it, so a deleted chunk ID is
// simply orphaned from the ID maps and left as an unreachable node in the
// graph until the next BuildIndex rebuilds it from scratch.
type hnswGraph struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	idMap   map[uint32]uint64 // chunk ID -> internal key
	keyMap  map[uint64]uint32 // internal key -> chunk ID
	nextKey uint64
}

// hnswSnapshot is the gob-encoded form stored under the vectors bucket's
// hnsw_snapshot key.
type hnswSnapshot struct {
	IDMap   map[uint32]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

func newHNSWGraph(cfg VectorStoreConfig) *hnswGraph {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &hnswGraph{
		graph:  graph,
		config: cfg,
		idMap:  make(map[uint32]uint64),
		keyMap: make(map[uint64]uint32),
	}
}

// rebuildFrom discards the current graph and rebuilds it from scratch over
// the given (chunkID, vector) pairs, called by BuildIndex.
func (g *hnswGraph) rebuildFrom(pairs []struct {
	ChunkID uint32
	Vector  []float32
}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = g.graph.Distance
	graph.M = g.config.M
	graph.EfSearch = g.config.EfSearch
	graph.Ml = 0.25

	idMap := make(map[uint32]uint64, len(pairs))
	keyMap := make(map[uint64]uint32, len(pairs))
	var nextKey uint64

	for _, p := range pairs {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		if g.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}
		key := nextKey
		nextKey++
		graph.Add(hnsw.MakeNode(key, vec))
		idMap[p.ChunkID] = key
		keyMap[key] = p.ChunkID
	}

	g.graph = graph
	g.idMap = idMap
	g.keyMap = keyMap
	g.nextKey = nextKey
}

func (g *hnswGraph) search(query []float32, k int) []*VectorResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.graph.Len() == 0 {
		return nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if g.config.Metric == "cos" {
		normalizeVectorInPlace(normalized)
	}

	nodes := g.graph.Search(normalized, k)
	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		chunkID, ok := g.keyMap[node.Key]
		if !ok {
			continue // orphaned (lazily deleted) node
		}
		distance := g.graph.Distance(normalized, node.Value)
		results = append(results, &VectorResult{
			ChunkID:  chunkID,
			Distance: distance,
			Score:    distanceToScore(distance, g.config.Metric),
		})
	}
	return results
}

func (g *hnswGraph) count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.idMap)
}

// snapshot gob-encodes the graph and its ID mappings to w, for embedding as
// a single bbolt value.
func (g *hnswGraph) snapshot(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var graphBuf bytes.Buffer
	if err := g.graph.Export(&graphBuf); err != nil {
		return fmt.Errorf("export hnsw graph: %w", err)
	}

	meta := hnswSnapshot{IDMap: g.idMap, NextKey: g.nextKey, Config: g.config}
	var metaBuf bytes.Buffer
	if err := gob.NewEncoder(&metaBuf).Encode(meta); err != nil {
		return fmt.Errorf("encode hnsw snapshot metadata: %w", err)
	}

	lengths := [2]uint64{uint64(metaBuf.Len()), uint64(graphBuf.Len())}
	if err := gob.NewEncoder(w).Encode(lengths); err != nil {
		return fmt.Errorf("encode hnsw snapshot header: %w", err)
	}
	if _, err := w.Write(metaBuf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(graphBuf.Bytes())
	return err
}

// restore rebuilds the graph and ID mappings from bytes produced by
// snapshot.
func (g *hnswGraph) restore(r io.Reader) error {
	br := bufio.NewReader(r)

	var lengths [2]uint64
	if err := gob.NewDecoder(br).Decode(&lengths); err != nil {
		return fmt.Errorf("decode hnsw snapshot header: %w", err)
	}

	metaBytes := make([]byte, lengths[0])
	if _, err := io.ReadFull(br, metaBytes); err != nil {
		return fmt.Errorf("read hnsw snapshot metadata: %w", err)
	}
	var meta hnswSnapshot
	if err := gob.NewDecoder(bytes.NewReader(metaBytes)).Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw snapshot metadata: %w", err)
	}

	graph := hnsw.NewGraph[uint64]()
	switch meta.Config.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = meta.Config.M
	graph.EfSearch = meta.Config.EfSearch
	graph.Ml = 0.25

	if err := graph.Import(br); err != nil {
		return fmt.Errorf("import hnsw graph: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.graph = graph
	g.config = meta.Config
	g.idMap = meta.IDMap
	g.keyMap = make(map[uint64]uint32, len(meta.IDMap))
	for id, key := range meta.IDMap {
		g.keyMap[key] = id
	}
	g.nextKey = meta.NextKey
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance value to a similarity score.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		// Cosine distance ranges 0 (identical) to 2 (opposite).
		return 1.0 - distance/2.0
	}
}
