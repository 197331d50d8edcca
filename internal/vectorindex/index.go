// Package vectorindex implements C2: an in-process nearest-neighbor index
// over unit-normalized embeddings, with incremental insert, atomic rebuild,
// and gob-encoded disk snapshots.
package vectorindex

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
)

// Match is one (id, cosine_similarity) result from Search, before C4 clips
// the score into [0,1].
type Match struct {
	ID    uuid.UUID
	Score float32
}

// snapshot is the immutable backing store swapped atomically on rebuild.
// Readers hold a reference obtained via atomic.Pointer.Load and never see a
// partially-written structure.
type snapshot struct {
	ids     []uuid.UUID
	vectors [][]float32
}

// Index is an exact inner-product search over L2-normalized vectors,
// sufficient for the expected working set (≤10^6 bugs per §4.2). It is
// safe for concurrent Add/Search/Rebuild from multiple goroutines.
type Index struct {
	dims int
	cur  atomic.Pointer[snapshot]
}

// New creates an empty index for vectors of the given dimensionality.
func New(dims int) *Index {
	idx := &Index{dims: dims}
	idx.cur.Store(&snapshot{})
	return idx
}

func (idx *Index) Dimensions() int { return idx.dims }

// Add appends vectors paired with ids. Per §4.2, C2 does not enforce id
// uniqueness; that is C5's responsibility via insert-time idempotency.
// Add copies the current snapshot's slices (copy-on-write) so concurrent
// readers of the prior snapshot are unaffected.
func (idx *Index) Add(vectors [][]float32, ids []uuid.UUID) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("vectorindex: %d vectors but %d ids", len(vectors), len(ids))
	}
	for _, v := range vectors {
		if len(v) != idx.dims {
			return fmt.Errorf("vectorindex: vector has dimension %d, want %d", len(v), idx.dims)
		}
	}
	for {
		old := idx.cur.Load()
		next := &snapshot{
			ids:     make([]uuid.UUID, len(old.ids), len(old.ids)+len(ids)),
			vectors: make([][]float32, len(old.vectors), len(old.vectors)+len(vectors)),
		}
		copy(next.ids, old.ids)
		copy(next.vectors, old.vectors)
		next.ids = append(next.ids, ids...)
		next.vectors = append(next.vectors, vectors...)
		if idx.cur.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Rebuild atomically replaces the index contents. Concurrent Search calls
// observe either the old or the new complete snapshot, never a partial one.
func (idx *Index) Rebuild(vectors [][]float32, ids []uuid.UUID) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("vectorindex: %d vectors but %d ids", len(vectors), len(ids))
	}
	next := &snapshot{
		ids:     append([]uuid.UUID(nil), ids...),
		vectors: append([][]float32(nil), vectors...),
	}
	idx.cur.Store(next)
	return nil
}

// Search returns up to k (id, cosine_similarity) pairs ordered by
// descending score. Vectors are assumed L2-normalized, so cosine similarity
// reduces to the dot product. Duplicate ids across transient rebuild
// overlap are not deduplicated here; C4 owns that per §4.2's edge case.
func (idx *Index) Search(query []float32, k int) ([]Match, error) {
	if len(query) != idx.dims {
		return nil, fmt.Errorf("vectorindex: query has dimension %d, want %d", len(query), idx.dims)
	}
	snap := idx.cur.Load()
	if len(snap.ids) == 0 || k <= 0 {
		return nil, nil
	}

	matches := make([]Match, len(snap.ids))
	for i, v := range snap.vectors {
		matches[i] = Match{ID: snap.ids[i], Score: dot(query, v)}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// Len reports the number of (id, vector) pairs currently in the index.
func (idx *Index) Len() int {
	return len(idx.cur.Load().ids)
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// vectorFile is the gob-encodable representation of path+".index": the
// dimensionality and the dense vector blob.
type vectorFile struct {
	Dims    int
	Vectors [][]float32
}

// mappingFile is the gob-encodable representation of path+".mapping": the id
// sequence, positionally aligned with vectorFile.Vectors.
type mappingFile struct {
	IDs []uuid.UUID
}

// Snapshot durably persists the index as two sibling files — path+".index"
// (the vector blob) and path+".mapping" (the id sequence) — each written via
// a temp-file-plus-rename so a crash mid-write never leaves a corrupt file.
func (idx *Index) Snapshot(path string) error {
	snap := idx.cur.Load()

	if err := writeGobFile(path+".index", vectorFile{Dims: idx.dims, Vectors: snap.vectors}); err != nil {
		return fmt.Errorf("vectorindex: write index file: %w", err)
	}
	if err := writeGobFile(path+".mapping", mappingFile{IDs: snap.ids}); err != nil {
		return fmt.Errorf("vectorindex: write mapping file: %w", err)
	}
	return nil
}

func writeGobFile(path string, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".vectorindex-snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load replaces the index contents with what was written by Snapshot,
// reading path+".index" and path+".mapping" back in.
func (idx *Index) Load(path string) error {
	var vf vectorFile
	if err := readGobFile(path+".index", &vf); err != nil {
		return fmt.Errorf("vectorindex: read index file: %w", err)
	}
	if vf.Dims != idx.dims {
		return fmt.Errorf("vectorindex: snapshot dimension %d does not match index dimension %d", vf.Dims, idx.dims)
	}

	var mf mappingFile
	if err := readGobFile(path+".mapping", &mf); err != nil {
		return fmt.Errorf("vectorindex: read mapping file: %w", err)
	}
	if len(mf.IDs) != len(vf.Vectors) {
		return fmt.Errorf("vectorindex: mapping has %d ids but index has %d vectors", len(mf.IDs), len(vf.Vectors))
	}

	idx.cur.Store(&snapshot{ids: mf.IDs, vectors: vf.Vectors})
	return nil
}

func readGobFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
