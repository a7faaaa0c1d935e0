package database

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/rollcall/internal/embedding"
	"github.com/kozaktomas/rollcall/internal/log"
)

// ErrIndexEmpty is returned when searching an index without a graph.
var ErrIndexEmpty = errors.New("index not initialized")

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	FaceCount int64     `json:"face_count"`
	MaxFaceID int64     `json:"max_face_id"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"`
}

const hnswMetadataVersion = 1

// HNSWIndex wraps the HNSW graph for searching stored unidentified faces.
type HNSWIndex struct {
	graph    *hnsw.Graph[int64]
	dims     int
	idToFace map[int64]*StoredFace // Maps HNSW node ID to face
	mu       sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToFace: make(map[int64]*StoredFace),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// BuildFromFaces builds the index from a slice of faces. Faces without an
// embedding, or whose dimension differs from the first face, are skipped.
func (h *HNSWIndex) BuildFromFaces(faces []StoredFace) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.dims = 0
	h.idToFace = make(map[int64]*StoredFace, len(faces))

	for i := range faces {
		h.addLocked(&faces[i])
	}
}

// Add adds a single face to the index.
func (h *HNSWIndex) Add(face *StoredFace) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(face)
}

func (h *HNSWIndex) addLocked(face *StoredFace) {
	if len(face.Embedding) == 0 || (h.dims != 0 && len(face.Embedding) != h.dims) {
		return
	}
	if h.graph == nil {
		h.graph = newGraph()
		h.dims = len(face.Embedding)
	}
	h.graph.Add(hnsw.MakeNode(face.ID, face.Embedding))
	h.idToFace[face.ID] = face
}

// Delete removes a face from the search results.
func (h *HNSWIndex) Delete(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// The node stays in the graph; lookups filter on idToFace.
	delete(h.idToFace, id)
}

// GetFace returns the face for a given ID.
func (h *HNSWIndex) GetFace(id int64) *StoredFace {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToFace[id]
}

// Search finds the k nearest neighbors to the query embedding.
// Returns face IDs and their cosine distances, closest first.
func (h *HNSWIndex) Search(query []float32, k int) ([]int64, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.searchLocked(query, k)
}

func (h *HNSWIndex) searchLocked(query []float32, k int) ([]int64, []float64, error) {
	if h.graph == nil {
		return nil, nil, ErrIndexEmpty
	}
	if len(query) != h.dims {
		return nil, nil, fmt.Errorf("%w: index has %d dimensions, query has %d",
			embedding.ErrDimensionMismatch, h.dims, len(query))
	}

	neighbors := h.graph.Search(query, k)
	ids := make([]int64, len(neighbors))
	distances := make([]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Key
		distances[i] = embedding.Distance(embedding.Normalize(query), embedding.Normalize(n.Value))
	}
	return ids, distances, nil
}

// SearchWithin returns up to limit indexed faces closer than maxDistance,
// closest first. An empty index yields no results.
func (h *HNSWIndex) SearchWithin(query []float32, limit int, maxDistance float64) ([]StoredFace, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || limit <= 0 {
		return nil, nil, nil
	}

	// Request more candidates to ensure we have enough after distance filtering.
	searchK := max(limit*HNSWSearchMultiplier, HNSWMinSearch)
	ids, distances, err := h.searchLocked(query, searchK)
	if err != nil {
		return nil, nil, err
	}

	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return distances[order[a]] < distances[order[b]]
	})

	faces := make([]StoredFace, 0, limit)
	out := make([]float64, 0, limit)
	for _, i := range order {
		if distances[i] >= maxDistance {
			break
		}
		face := h.idToFace[ids[i]]
		if face == nil {
			continue
		}
		faces = append(faces, *face)
		out = append(out, distances[i])
		if len(faces) >= limit {
			break
		}
	}
	return faces, out, nil
}

// Count returns the number of indexed faces.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToFace)
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil
}

// SaveWithFaceMetadata persists the graph to path, its metadata to path.meta
// and the indexed faces to path.faces.
func (h *HNSWIndex) SaveWithFaceMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".faces")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close HNSW index file: %w", err)
	}

	metadata.Version = hnswMetadataVersion
	if metadata.BuildTime.IsZero() {
		metadata.BuildTime = time.Now().UTC()
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	faces := make([]StoredFace, 0, len(h.idToFace))
	for _, face := range h.idToFace {
		faces = append(faces, *face)
	}
	sort.Slice(faces, func(i, j int) bool { return faces[i].ID < faces[j].ID })
	if err := saveFaceMetadata(path, faces); err != nil {
		return err
	}

	log.Info(log.Fields{"path": path, "faces": len(faces)}, "face index saved")
	return nil
}

// LoadWithFaceMetadata loads both the HNSW graph and face metadata from disk.
func (h *HNSWIndex) LoadWithFaceMetadata(path string) error {
	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}
	faces, err := loadFaceMetadata(path)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = saved.Graph
	h.dims = h.graph.Dims()
	h.idToFace = make(map[int64]*StoredFace, len(faces))
	for i := range faces {
		h.idToFace[faces[i].ID] = &faces[i]
	}
	if h.graph.Len() == 0 {
		h.graph = nil
	}
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

func saveFaceMetadata(path string, faces []StoredFace) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(faces); err != nil {
		return fmt.Errorf("failed to encode faces: %w", err)
	}
	if err := os.WriteFile(path+".faces", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write faces file: %w", err)
	}
	return nil
}

func loadFaceMetadata(path string) ([]StoredFace, error) {
	data, err := os.ReadFile(path + ".faces") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read faces file: %w", err)
	}
	var faces []StoredFace
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&faces); err != nil {
		return nil, fmt.Errorf("failed to decode faces: %w", err)
	}
	return faces, nil
}
