package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// indexMagic identifies the on-disk snapshot format.
var indexMagic = [8]byte{'K', 'A', 'I', 'W', 'A', 'I', 'X', '1'}

// Save writes a snapshot of the index to path, atomically via a temp file.
func (ix *Index) Save(path string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	w := bufio.NewWriter(f)
	err = ix.writeSnapshot(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (ix *Index) writeSnapshot(w io.Writer) error {
	if _, err := w.Write(indexMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(ix.dims)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(ix.entries))); err != nil {
		return err
	}
	for i := range ix.entries {
		e := &ix.entries[i]
		for _, s := range []string{e.chunk.ID, e.chunk.DocumentID, e.filename, e.chunk.Content} {
			if err := writeString(w, s); err != nil {
				return err
			}
		}
		meta := []int32{int32(e.chunk.SeqIndex), int32(e.chunk.StartOffset), int32(e.chunk.EndOffset)}
		if err := binary.Write(w, binary.LittleEndian, meta); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, e.ingestedAt.UnixNano()); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, e.vec); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the index contents with a snapshot previously written by
// Save. A missing file is not an error; the index is left empty.
func (ix *Index) Load(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	entries, dims, err := readSnapshot(r)
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", path, err)
	}
	if ix.dims > 0 && dims != ix.dims {
		return fmt.Errorf("snapshot %s has %d dimensions, embedder produces %d", path, dims, ix.dims)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = entries
	ix.docs = make(map[string]int)
	for i := range entries {
		ix.docs[entries[i].chunk.DocumentID]++
	}
	return nil
}

func readSnapshot(r io.Reader) ([]entry, int, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, 0, err
	}
	if magic != indexMagic {
		return nil, 0, fmt.Errorf("bad magic %q", magic[:])
	}
	var dims, count int32
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return nil, 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, 0, err
	}
	if dims < 0 || count < 0 {
		return nil, 0, fmt.Errorf("corrupt header: dims=%d count=%d", dims, count)
	}

	entries := make([]entry, 0, count)
	for i := int32(0); i < count; i++ {
		var e entry
		var err error
		fields := []*string{&e.chunk.ID, &e.chunk.DocumentID, &e.filename, &e.chunk.Content}
		for _, field := range fields {
			if *field, err = readString(r); err != nil {
				return nil, 0, err
			}
		}
		var meta [3]int32
		if err := binary.Read(r, binary.LittleEndian, &meta); err != nil {
			return nil, 0, err
		}
		e.chunk.SeqIndex = int(meta[0])
		e.chunk.StartOffset = int(meta[1])
		e.chunk.EndOffset = int(meta[2])
		var nanos int64
		if err := binary.Read(r, binary.LittleEndian, &nanos); err != nil {
			return nil, 0, err
		}
		e.ingestedAt = time.Unix(0, nanos).UTC()
		e.vec = make([]float32, dims)
		if err := binary.Read(r, binary.LittleEndian, e.vec); err != nil {
			return nil, 0, err
		}
		e.chunk.Embedding = e.vec
		entries = append(entries, e)
	}
	return entries, int(dims), nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("corrupt string length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
