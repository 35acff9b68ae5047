package vector

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/quarrydb/quarry/internal/models"
)

// On-disk layout of the local store: one zstd-compressed binary file holding
// the raw vectors in ID order, and one JSON file holding the chunk metadata
// plus the next-ID counter. Both are rewritten atomically (write-temp,
// fsync, rename) on every mutation, and both must be present — or both
// absent — for a consistent restore.
const (
	// VectorSnapshotFile holds the serialized vectors.
	VectorSnapshotFile = "vectors.snap"
	// ChunkMetaFile holds chunk metadata and the next-ID counter.
	ChunkMetaFile = "chunks.json"
)

var snapshotMagic = [4]byte{'Q', 'V', 'S', '1'}

const snapshotVersion = uint16(1)

type chunkMetaPayload struct {
	NextID int64          `json:"next_id"`
	Chunks []models.Chunk `json:"chunks"`
}

// writeSnapshot persists vectors and chunk metadata to dir. Each file is
// written to a temporary sibling, synced, and renamed into place so a reader
// never observes a half-written file and the previous durable state survives
// a crash between steps.
func writeSnapshot(dir string, dim int, ids []int64, vectors [][]float32, chunks []models.Chunk, nextID int64) error {
	vecPath := filepath.Join(dir, VectorSnapshotFile)
	if err := atomicWrite(vecPath, func(w io.Writer) error {
		return encodeVectors(w, dim, ids, vectors)
	}); err != nil {
		return err
	}
	metaPath := filepath.Join(dir, ChunkMetaFile)
	return atomicWrite(metaPath, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(chunkMetaPayload{NextID: nextID, Chunks: chunks})
	})
}

// loadSnapshot restores prior state from dir. Returns ok=false when neither
// file exists (empty start). Exactly one file present, a dimension mismatch,
// or a vector/metadata orphan is a ConsistencyError.
func loadSnapshot(dir string, dim int) (ids []int64, vectors [][]float32, chunks []models.Chunk, nextID int64, ok bool, err error) {
	vecPath := filepath.Join(dir, VectorSnapshotFile)
	metaPath := filepath.Join(dir, ChunkMetaFile)
	vecExists := fileExists(vecPath)
	metaExists := fileExists(metaPath)
	switch {
	case !vecExists && !metaExists:
		return nil, nil, nil, 0, false, nil
	case vecExists != metaExists:
		missing := VectorSnapshotFile
		if !metaExists {
			missing = ChunkMetaFile
		}
		return nil, nil, nil, 0, false, &ConsistencyError{
			Reason: fmt.Sprintf("persisted file %s is missing while its sibling exists", missing),
		}
	}

	ids, vectors, err = readVectors(vecPath, dim)
	if err != nil {
		return nil, nil, nil, 0, false, err
	}
	meta, err := readChunkMeta(metaPath)
	if err != nil {
		return nil, nil, nil, 0, false, err
	}

	byID := make(map[int64]bool, len(meta.Chunks))
	for _, c := range meta.Chunks {
		byID[c.ID] = true
	}
	if len(byID) != len(ids) {
		return nil, nil, nil, 0, false, &ConsistencyError{
			Reason: fmt.Sprintf("%d vectors but %d chunk records", len(ids), len(byID)),
		}
	}
	for _, id := range ids {
		if !byID[id] {
			return nil, nil, nil, 0, false, &ConsistencyError{
				Reason: fmt.Sprintf("vector entry %d has no chunk metadata record", id),
			}
		}
	}
	return ids, vectors, meta.Chunks, meta.NextID, true, nil
}

// removeSnapshot deletes both persisted files. Missing files are not errors,
// so removal is idempotent.
func removeSnapshot(dir string) error {
	for _, name := range []string{VectorSnapshotFile, ChunkMetaFile} {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return &PersistenceError{Op: "remove", Path: path, Err: err}
		}
	}
	return nil
}

func atomicWrite(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &PersistenceError{Op: "create", Path: tmp, Err: err}
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &PersistenceError{Op: "write", Path: tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &PersistenceError{Op: "sync", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return &PersistenceError{Op: "close", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &PersistenceError{Op: "rename", Path: path, Err: err}
	}
	syncDir(filepath.Dir(path))
	return nil
}

// syncDir fsyncs the directory so the rename itself is durable. Best effort:
// some filesystems do not support directory sync.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// encodeVectors writes the header raw, then the entries (id + raw float32
// vector each) through a zstd stream.
func encodeVectors(w io.Writer, dim int, ids []int64, vectors [][]float32) error {
	var hdr [12]byte
	copy(hdr[0:4], snapshotMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], snapshotVersion)
	binary.LittleEndian.PutUint16(hdr[6:8], 0) // reserved
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(dim))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := binary.Write(zw, binary.LittleEndian, uint32(len(ids))); err != nil {
		_ = zw.Close()
		return err
	}
	buf := make([]byte, dim*4)
	for i, id := range ids {
		if err := binary.Write(zw, binary.LittleEndian, id); err != nil {
			_ = zw.Close()
			return err
		}
		for j, v := range vectors[i] {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(v))
		}
		if _, err := zw.Write(buf); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

func readVectors(path string, dim int) ([]int64, [][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &PersistenceError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	var hdr [12]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, nil, &ConsistencyError{Reason: "vector snapshot header truncated"}
	}
	if [4]byte(hdr[0:4]) != snapshotMagic {
		return nil, nil, &ConsistencyError{Reason: "vector snapshot has wrong magic"}
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != snapshotVersion {
		return nil, nil, &ConsistencyError{Reason: fmt.Sprintf("unsupported vector snapshot version %d", v)}
	}
	if fileDim := int(binary.LittleEndian.Uint32(hdr[8:12])); fileDim != dim {
		return nil, nil, &ConsistencyError{
			Reason: fmt.Sprintf("snapshot dimension %d does not match configured dimension %d", fileDim, dim),
		}
	}

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, nil, &ConsistencyError{Reason: "vector snapshot is not a valid zstd stream"}
	}
	defer zr.Close()

	var count uint32
	if err := binary.Read(zr, binary.LittleEndian, &count); err != nil {
		return nil, nil, &ConsistencyError{Reason: "vector snapshot count truncated"}
	}
	// The count comes from an untrusted file; cap the preallocation so a
	// corrupted value cannot demand gigabytes before the entry reads fail.
	capHint := int(count)
	if capHint > 1<<16 {
		capHint = 1 << 16
	}
	ids := make([]int64, 0, capHint)
	vectors := make([][]float32, 0, capHint)
	buf := make([]byte, dim*4)
	for i := uint32(0); i < count; i++ {
		var id int64
		if err := binary.Read(zr, binary.LittleEndian, &id); err != nil {
			return nil, nil, &ConsistencyError{Reason: "vector snapshot entry truncated"}
		}
		if _, err := io.ReadFull(zr, buf); err != nil {
			return nil, nil, &ConsistencyError{Reason: "vector snapshot entry truncated"}
		}
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	return ids, vectors, nil
}

func readChunkMeta(path string) (*chunkMetaPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	var meta chunkMetaPayload
	if err := json.NewDecoder(f).Decode(&meta); err != nil {
		return nil, &ConsistencyError{Reason: fmt.Sprintf("chunk metadata unreadable: %v", err)}
	}
	return &meta, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
