package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Snapshot file layout (little endian):
//
//	magic "CRAG" | version u16 | flags u16 | dimension u32 | count u32
//	body: count*dimension f32, then per slot:
//	      chunkID str | documentID str | chunkIndex u32 | text str | tokens u32
//	      (str = u32 length + bytes)
//	crc32 (IEEE) over everything before it
//
// With flagZstd set the body is a single zstd frame.
const (
	snapshotMagic   = "CRAG"
	snapshotVersion = uint16(1)
	snapshotExt     = ".snap"
	headerSize      = 4 + 2 + 2 + 4 + 4
	trailerSize     = 4

	flagZstd = uint16(1 << 0)
)

// SnapshotStore saves and loads index+catalog pairs as named files in a directory.
type SnapshotStore struct {
	dir      string
	compress bool
}

// SnapshotOption configures a SnapshotStore.
type SnapshotOption func(*SnapshotStore)

// WithCompression zstd-compresses snapshot bodies on save. Loads detect compression
// from the header either way.
func WithCompression(enabled bool) SnapshotOption {
	return func(s *SnapshotStore) { s.compress = enabled }
}

// NewSnapshotStore returns a store rooted at dir. The directory is created on first save.
func NewSnapshotStore(dir string, opts ...SnapshotOption) *SnapshotStore {
	s := &SnapshotStore{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the snapshot directory.
func (s *SnapshotStore) Dir() string {
	return s.dir
}

// Path returns the file path used for name.
func (s *SnapshotStore) Path(name string) (string, error) {
	if err := validateSnapshotName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+snapshotExt), nil
}

func validateSnapshotName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, os.PathSeparator) {
		return fmt.Errorf("%w: %q", ErrInvalidSnapshotName, name)
	}
	return nil
}

// Exists reports whether a snapshot named name has been saved.
func (s *SnapshotStore) Exists(name string) bool {
	path, err := s.Path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// List returns the names of saved snapshots, sorted.
func (s *SnapshotStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), snapshotExt) {
			names = append(names, strings.TrimSuffix(e.Name(), snapshotExt))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Save writes index and catalog under name. The file is written to a temporary path in
// the same directory and renamed into place only after a successful sync, so a partial
// write is never visible as a snapshot.
func (s *SnapshotStore) Save(name string, index Index, catalog *Catalog) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	rec, ok := index.(Reconstructor)
	if !ok {
		return fmt.Errorf("save snapshot %q: %w", name, ErrUnsupportedWithoutVectorRetention)
	}
	if index.Count() != catalog.Len() {
		return fmt.Errorf("save snapshot %q: index holds %d vectors but catalog %d records",
			name, index.Count(), catalog.Len())
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, name+snapshotExt+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := s.encode(tmp, index.Dimension(), index.Count(), rec, catalog); err != nil {
		return fmt.Errorf("write snapshot %q: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync snapshot %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot %q: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("commit snapshot %q: %w", name, err)
	}
	committed = true
	return nil
}

func (s *SnapshotStore) encode(f *os.File, dim, count int, rec Reconstructor, catalog *Catalog) error {
	crc := crc32.NewIEEE()
	bw := bufio.NewWriter(io.MultiWriter(f, crc))

	var flags uint16
	if s.compress {
		flags |= flagZstd
	}
	header := make([]byte, headerSize)
	copy(header, snapshotMagic)
	binary.LittleEndian.PutUint16(header[4:], snapshotVersion)
	binary.LittleEndian.PutUint16(header[6:], flags)
	binary.LittleEndian.PutUint32(header[8:], uint32(dim))
	binary.LittleEndian.PutUint32(header[12:], uint32(count))
	if _, err := bw.Write(header); err != nil {
		return err
	}

	var body io.Writer = bw
	var enc *zstd.Encoder
	if s.compress {
		var err error
		enc, err = zstd.NewWriter(bw)
		if err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		body = enc
	}
	if err := writeBody(body, dim, count, rec, catalog); err != nil {
		if enc != nil {
			_ = enc.Close()
		}
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("zstd close: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	trailer := make([]byte, trailerSize)
	binary.LittleEndian.PutUint32(trailer, crc.Sum32())
	_, err := f.Write(trailer)
	return err
}

func writeBody(w io.Writer, dim, count int, rec Reconstructor, catalog *Catalog) error {
	buf := make([]byte, dim*4)
	for i := 0; i < count; i++ {
		vec, err := rec.Vector(Slot(i))
		if err != nil {
			return err
		}
		for j, v := range vec {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	for i := 0; i < count; i++ {
		meta, err := catalog.Resolve(Slot(i))
		if err != nil {
			return err
		}
		if err := writeString(w, meta.ChunkID); err != nil {
			return err
		}
		if err := writeString(w, meta.DocumentID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(meta.ChunkIndex)); err != nil {
			return err
		}
		if err := writeString(w, meta.Text); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(meta.TokenCount)); err != nil {
			return err
		}
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// Load reads the snapshot saved under name and rebuilds the index and catalog with
// identical slots, vectors and metadata.
func (s *SnapshotStore) Load(name string) (*FlatIndex, *Catalog, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
		}
		return nil, nil, fmt.Errorf("read snapshot %q: %w", name, err)
	}
	idx, cat, err := decodeSnapshot(data)
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot %q: %w", name, err)
	}
	return idx, cat, nil
}

func decodeSnapshot(data []byte) (*FlatIndex, *Catalog, error) {
	if len(data) < headerSize+trailerSize {
		return nil, nil, fmt.Errorf("%w: file too short (%d bytes)", ErrCorruptSnapshot, len(data))
	}
	if string(data[:4]) != snapshotMagic {
		return nil, nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != snapshotVersion {
		return nil, nil, fmt.Errorf("%w: version %d (supported: %d)", ErrIncompatibleSnapshot, v, snapshotVersion)
	}
	payload := data[:len(data)-trailerSize]
	want := binary.LittleEndian.Uint32(data[len(data)-trailerSize:])
	if got := crc32.ChecksumIEEE(payload); got != want {
		return nil, nil, fmt.Errorf("%w: checksum %08x, want %08x", ErrCorruptSnapshot, got, want)
	}
	flags := binary.LittleEndian.Uint16(data[6:])
	if flags&^flagZstd != 0 {
		return nil, nil, fmt.Errorf("%w: unknown flags %#x", ErrIncompatibleSnapshot, flags)
	}
	dim := int(binary.LittleEndian.Uint32(data[8:]))
	count := int(binary.LittleEndian.Uint32(data[12:]))
	if dim <= 0 {
		return nil, nil, fmt.Errorf("%w: dimension %d", ErrCorruptSnapshot, dim)
	}

	body := payload[headerSize:]
	if flags&flagZstd != 0 {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		body, err = dec.DecodeAll(body, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: decompress: %v", ErrCorruptSnapshot, err)
		}
	}
	if uint64(count)*uint64(dim)*4 > uint64(len(body)) {
		return nil, nil, fmt.Errorf("%w: body too short for %d vectors of dimension %d", ErrCorruptSnapshot, count, dim)
	}

	idx, err := NewFlatIndex(dim)
	if err != nil {
		return nil, nil, err
	}
	vectors := make([][]float32, count)
	off := 0
	for i := range vectors {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
			off += 4
		}
		vectors[i] = vec
	}
	idx.appendNormalized(vectors)

	r := bytes.NewReader(body[off:])
	cat := NewCatalog()
	for i := 0; i < count; i++ {
		meta, err := readMetadata(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: metadata for slot %d: %v", ErrCorruptSnapshot, i, err)
		}
		if err := cat.Register(Slot(i), meta); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
	}
	if r.Len() != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptSnapshot, r.Len())
	}
	return idx, cat, nil
}

func readMetadata(r *bytes.Reader) (ChunkMetadata, error) {
	var meta ChunkMetadata
	var err error
	if meta.ChunkID, err = readString(r); err != nil {
		return meta, err
	}
	if meta.DocumentID, err = readString(r); err != nil {
		return meta, err
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return meta, err
	}
	meta.ChunkIndex = int(n)
	if meta.Text, err = readString(r); err != nil {
		return meta, err
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return meta, err
	}
	meta.TokenCount = int(n)
	return meta, nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if int64(n) > int64(r.Len()) {
		return "", errors.New("string length exceeds remaining data")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
