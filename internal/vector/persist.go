package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// File layout, little-endian:
//
//	[4B magic "HKIX"] [4B version] [1B engine] [1B metric] [1B quantization]
//	[4B dimensions] [4B connectivity] [4B expansion add] [4B expansion search]
//	engine payload
//
// A vector is dims float32 values, or for i8 storage [4B lo] [4B step] [dims codes].
var fileMagic = [4]byte{'H', 'K', 'I', 'X'}

const fileVersion uint32 = 1

var (
	engineCodes = map[IndexType]uint8{IndexTypeFlat: 1, IndexTypeHNSW: 2}
	metricCodes = map[Metric]uint8{MetricL2: 1, MetricL2Sq: 2, MetricCosine: 3, MetricIP: 4}
	quantCodes  = map[Quantization]uint8{QuantizationF32: 1, QuantizationI8: 2}
)

func lookup[K comparable](m map[K]uint8, code uint8) (K, bool) {
	for k, c := range m {
		if c == code {
			return k, true
		}
	}
	var zero K
	return zero, false
}

type encoder struct {
	w   *bufio.Writer
	err error
}

func (e *encoder) write(v any) {
	if e.err == nil {
		e.err = binary.Write(e.w, binary.LittleEndian, v)
	}
}

func (e *encoder) u8(v uint8)   { e.write(v) }
func (e *encoder) u32(v uint32) { e.write(v) }
func (e *encoder) i32(v int32)  { e.write(v) }
func (e *encoder) u64(v uint64) { e.write(v) }

func (e *encoder) header(t IndexType, o Options) {
	if e.err == nil {
		_, e.err = e.w.Write(fileMagic[:])
	}
	e.u32(fileVersion)
	e.u8(engineCodes[t])
	e.u8(metricCodes[o.Metric])
	e.u8(quantCodes[o.Quantization])
	e.u32(uint32(o.Dimensions))
	e.u32(uint32(o.Connectivity))
	e.u32(uint32(o.ExpansionAdd))
	e.u32(uint32(o.ExpansionSearch))
}

func (e *encoder) vector(s stored) {
	if s.code == nil {
		e.write(s.f32)
		return
	}
	e.write(s.lo)
	e.write(s.step)
	e.write(s.code)
}

type decoder struct {
	r   *bufio.Reader
	err error
}

func (d *decoder) read(v any) {
	if d.err == nil {
		d.err = binary.Read(d.r, binary.LittleEndian, v)
	}
}

func (d *decoder) u8() (v uint8)   { d.read(&v); return }
func (d *decoder) u32() (v uint32) { d.read(&v); return }
func (d *decoder) i32() (v int32)  { d.read(&v); return }
func (d *decoder) u64() (v uint64) { d.read(&v); return }

func (d *decoder) vector(o Options) stored {
	if o.Quantization == QuantizationI8 {
		s := stored{code: make([]uint8, o.Dimensions)}
		d.read(&s.lo)
		d.read(&s.step)
		d.read(s.code)
		return s
	}
	v := make([]float32, o.Dimensions)
	d.read(v)
	return stored{f32: v}
}

func (d *decoder) header() (IndexType, Options, error) {
	var magic [4]byte
	if _, err := io.ReadFull(d.r, magic[:]); err != nil {
		return "", Options{}, fmt.Errorf("read magic: %w", err)
	}
	if magic != fileMagic {
		return "", Options{}, errors.New("not an index file")
	}
	if v := d.u32(); d.err == nil && v != fileVersion {
		return "", Options{}, fmt.Errorf("unsupported index file version %d", v)
	}
	engine, metric, quant := d.u8(), d.u8(), d.u8()
	var o Options
	o.Dimensions = int(d.u32())
	o.Connectivity = int(d.u32())
	o.ExpansionAdd = int(d.u32())
	o.ExpansionSearch = int(d.u32())
	if d.err != nil {
		return "", Options{}, fmt.Errorf("read header: %w", d.err)
	}
	t, ok := lookup(engineCodes, engine)
	if !ok {
		return "", Options{}, fmt.Errorf("%w: code %d", ErrUnknownIndexType, engine)
	}
	if o.Metric, ok = lookup(metricCodes, metric); !ok {
		return "", Options{}, fmt.Errorf("unknown metric code %d", metric)
	}
	if o.Quantization, ok = lookup(quantCodes, quant); !ok {
		return "", Options{}, fmt.Errorf("unknown quantization code %d", quant)
	}
	return t, o, nil
}

// writeAtomic writes to a temporary file beside path and renames it into place.
func writeAtomic(path string, fill func(*encoder) error) error {
	if path == "" {
		return errors.New("index path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := &encoder{w: bufio.NewWriter(tmp)}
	if err := fill(enc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := enc.w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

// Load reads an index file written by Save on any engine.
func Load(path string) (Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	d := &decoder{r: bufio.NewReader(f)}
	t, opts, err := d.header()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var idx Index
	switch t {
	case IndexTypeFlat:
		idx, err = readFlat(d, opts)
	case IndexTypeHNSW:
		idx, err = readHNSW(d, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read %s index: %w", path, t, err)
	}
	return idx, nil
}

// guard against absurd slot counts in corrupt files
const maxSlots = math.MaxInt32
