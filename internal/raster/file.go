package raster

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultBlockSize   = 256
	defaultCacheBlocks = 64

	// ISIS special pixels sit at the bottom of the value range.
	specialFloat = -1e30
	specialInt16 = -32752
)

// FileConfig tunes block reads.
type FileConfig struct {
	BlockSize   int // pixels per block edge
	CacheBlocks int // blocks kept in memory
}

type blockKey struct {
	bx, by int
}

// File is a raster backed by a raw data file. It reads square blocks and
// keeps the most recently used unique blocks, which suits access patterns
// that revisit nearby pixels out of order.
type File struct {
	label     Label
	r         io.ReaderAt
	closer    io.Closer
	order     binary.ByteOrder
	pixSize   int
	blockSize int
	noData    map[float64]struct{}
	blocks    *lru.Cache[blockKey, []float64]

	hits, misses atomic.Int64
}

// Open reads the label at labelPath and opens the data file it names,
// resolved relative to the label's directory.
func Open(labelPath string, cfg FileConfig) (*File, error) {
	label, err := ReadLabel(labelPath)
	if err != nil {
		return nil, err
	}
	data := label.Data
	if data == "" {
		data = strings.TrimSuffix(filepath.Base(labelPath), filepath.Ext(labelPath)) + ".dem"
	}
	if !filepath.IsAbs(data) {
		data = filepath.Join(filepath.Dir(labelPath), data)
	}
	f, err := os.Open(data)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	rf, err := NewFile(label, f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	if want := int64(label.Samples) * int64(label.Lines) * int64(rf.pixSize); st.Size() < want {
		f.Close()
		return nil, fmt.Errorf("raster: %s holds %d bytes, label needs %d", data, st.Size(), want)
	}
	rf.closer = f
	return rf, nil
}

// NewFile builds a raster over r using the encoding described by label.
func NewFile(label Label, r io.ReaderAt, cfg FileConfig) (*File, error) {
	if err := label.Validate(); err != nil {
		return nil, err
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = defaultBlockSize
	}
	if cfg.CacheBlocks <= 0 {
		cfg.CacheBlocks = defaultCacheBlocks
	}
	blocks, err := lru.New[blockKey, []float64](cfg.CacheBlocks)
	if err != nil {
		return nil, err
	}
	pixSize, _ := label.pixelSize()
	order, _ := label.byteOrder()
	ns := make(map[float64]struct{}, len(label.NoData))
	for _, v := range label.NoData {
		if pixSize == 4 {
			v = float64(float32(v))
		}
		ns[v] = struct{}{}
	}
	return &File{
		label:     label,
		r:         r,
		order:     order,
		pixSize:   pixSize,
		blockSize: cfg.BlockSize,
		noData:    ns,
		blocks:    blocks,
	}, nil
}

func (f *File) Label() Label { return f.label }
func (f *File) Samples() int { return f.label.Samples }
func (f *File) Lines() int   { return f.label.Lines }

// CacheStats returns block cache hits and misses since the file was opened.
func (f *File) CacheStats() (hits, misses int64) {
	return f.hits.Load(), f.misses.Load()
}

// Close releases the underlying data file, if Open created it.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

func (f *File) Read(sample, line, width, height int, buf []float64) error {
	if err := checkWindow(width, height, buf); err != nil {
		return err
	}
	for j := 0; j < height; j++ {
		for i := 0; i < width; i++ {
			v, err := f.at(sample+i, line+j)
			if err != nil {
				return err
			}
			buf[j*width+i] = v
		}
	}
	return nil
}

func (f *File) at(s, l int) (float64, error) {
	if s < 0 || l < 0 || s >= f.label.Samples || l >= f.label.Lines {
		return math.NaN(), nil
	}
	key := blockKey{bx: s / f.blockSize, by: l / f.blockSize}
	blk, ok := f.blocks.Get(key)
	if ok {
		f.hits.Add(1)
	} else {
		f.misses.Add(1)
		var err error
		if blk, err = f.loadBlock(key); err != nil {
			return 0, err
		}
		f.blocks.Add(key, blk)
	}
	s0, l0 := key.bx*f.blockSize, key.by*f.blockSize
	w := f.blockWidth(key)
	return blk[(l-l0)*w+(s-s0)], nil
}

func (f *File) blockWidth(key blockKey) int {
	s0 := key.bx * f.blockSize
	return min(f.blockSize, f.label.Samples-s0)
}

func (f *File) loadBlock(key blockKey) ([]float64, error) {
	s0, l0 := key.bx*f.blockSize, key.by*f.blockSize
	w := f.blockWidth(key)
	h := min(f.blockSize, f.label.Lines-l0)

	out := make([]float64, w*h)
	row := make([]byte, w*f.pixSize)
	for j := 0; j < h; j++ {
		off := (int64(l0+j)*int64(f.label.Samples) + int64(s0)) * int64(f.pixSize)
		if n, err := f.r.ReadAt(row, off); err != nil && !(err == io.EOF && n == len(row)) {
			return nil, fmt.Errorf("raster: read line %d: %w", l0+j, err)
		}
		for i := 0; i < w; i++ {
			out[j*w+i] = f.decode(row[i*f.pixSize : (i+1)*f.pixSize])
		}
	}
	return out, nil
}

func (f *File) decode(b []byte) float64 {
	var raw float64
	switch f.pixSize {
	case 2:
		v := int16(f.order.Uint16(b))
		if v <= specialInt16 {
			return math.NaN()
		}
		raw = float64(v)
	case 4:
		raw = float64(math.Float32frombits(f.order.Uint32(b)))
	default:
		raw = math.Float64frombits(f.order.Uint64(b))
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw < specialFloat {
		return math.NaN()
	}
	if _, ok := f.noData[raw]; ok {
		return math.NaN()
	}
	return raw*f.label.Multiplier + f.label.Base
}
