// Package persistence saves and loads trained map snapshots in a
// self-describing binary format.
//
// Layout:
//  1. header: magic, format version, compression, codec name, section count
//  2. meta section: codec-marshaled Meta (config, entities, mappings)
//  3. weights section: raw little-endian float32 grid weights
//
// Each section is independently compressed (per the header's compression
// setting) and carries its byte length and a CRC-32C checksum, so torn or
// corrupted files fail loudly on load.
package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/somgo/codec"
	"github.com/hupe1980/somgo/entity"
	"github.com/hupe1980/somgo/mapping"
)

var (
	snapshotMagic         = [4]byte{'S', 'O', 'M', '1'}
	snapshotFormatVersion = uint16(1)

	// crc32cTable is pre-computed for the CRC32-Castagnoli polynomial.
	crc32cTable = crc32.MakeTable(crc32.Castagnoli)
)

const (
	sectionMeta    = uint16(1)
	sectionWeights = uint16(2)
)

// Compression selects the per-section compression codec.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}

// Meta carries everything about a trained instance except the weight field.
type Meta struct {
	InstanceID          string                `json:"instanceId"`
	CreatedAt           time.Time             `json:"createdAt"`
	GridWidth           int                   `json:"gridWidth"`
	GridHeight          int                   `json:"gridHeight"`
	Topology            string                `json:"topology"`
	Dimension           int                   `json:"dimension"`
	MaxIterations       int                   `json:"maxIterations,omitempty"`
	InitialLearningRate float64               `json:"initialLearningRate"`
	FinalLearningRate   float64               `json:"finalLearningRate"`
	ClusterThreshold    float64               `json:"clusterThreshold,omitempty"`
	MinClusterSize      int                   `json:"minClusterSize,omitempty"`
	TrainedIterations   int                   `json:"trainedIterations"`
	QuantizationError   float64               `json:"quantizationError"`
	Entities            []entity.Record       `json:"entities"`
	Mappings            []mapping.NodeMapping `json:"mappings,omitempty"`
}

// Snapshot is a persisted trained instance.
type Snapshot struct {
	Meta    Meta
	Weights []float32
}

// Options tunes snapshot writing.
type Options struct {
	// Codec encodes the meta section; nil selects codec.Default.
	Codec codec.Codec
	// Compression applies to both sections.
	Compression Compression
}

// Save writes the snapshot to w.
func Save(w io.Writer, snap *Snapshot, optFns ...func(*Options)) error {
	if snap == nil {
		return fmt.Errorf("snapshot: nil snapshot")
	}
	if len(snap.Weights) != snap.Meta.GridWidth*snap.Meta.GridHeight*snap.Meta.Dimension {
		return fmt.Errorf("snapshot: weight length %d does not match %dx%dx%d",
			len(snap.Weights), snap.Meta.GridWidth, snap.Meta.GridHeight, snap.Meta.Dimension)
	}

	opts := Options{Codec: codec.Default}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	codecName := opts.Codec.Name()

	// Header: magic(4) version(2) compression(1) codecNameLen(1)
	// sectionCount(2) reserved(2) + codec name.
	var hdr [12]byte
	copy(hdr[0:4], snapshotMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], snapshotFormatVersion)
	hdr[6] = byte(opts.Compression)
	if len(codecName) > 0xFF {
		return fmt.Errorf("snapshot: codec name too long: %d", len(codecName))
	}
	hdr[7] = byte(len(codecName))
	binary.LittleEndian.PutUint16(hdr[8:10], 2)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, codecName); err != nil {
		return err
	}

	meta, err := opts.Codec.Marshal(&snap.Meta)
	if err != nil {
		return fmt.Errorf("snapshot: marshal meta: %w", err)
	}
	if err := writeSection(w, sectionMeta, meta, opts.Compression); err != nil {
		return err
	}

	weights := make([]byte, len(snap.Weights)*4)
	for i, v := range snap.Weights {
		binary.LittleEndian.PutUint32(weights[i*4:], math.Float32bits(v))
	}
	return writeSection(w, sectionWeights, weights, opts.Compression)
}

// Load reads a snapshot from r.
func Load(r io.Reader) (*Snapshot, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("snapshot: read header: %w", err)
	}
	if !bytes.Equal(hdr[0:4], snapshotMagic[:]) {
		return nil, fmt.Errorf("snapshot: bad magic %q", hdr[0:4])
	}
	if version := binary.LittleEndian.Uint16(hdr[4:6]); version != snapshotFormatVersion {
		return nil, fmt.Errorf("snapshot: unsupported format version %d", version)
	}

	compression := Compression(hdr[6])
	nameLen := int(hdr[7])
	sections := int(binary.LittleEndian.Uint16(hdr[8:10]))

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("snapshot: read codec name: %w", err)
	}
	c, ok := codec.ByName(string(name))
	if !ok {
		return nil, fmt.Errorf("snapshot: unknown codec %q", name)
	}

	snap := &Snapshot{}
	for i := 0; i < sections; i++ {
		typ, data, err := readSection(r, compression)
		if err != nil {
			return nil, err
		}
		switch typ {
		case sectionMeta:
			if err := c.Unmarshal(data, &snap.Meta); err != nil {
				return nil, fmt.Errorf("snapshot: unmarshal meta: %w", err)
			}
		case sectionWeights:
			if len(data)%4 != 0 {
				return nil, fmt.Errorf("snapshot: weight section length %d not a multiple of 4", len(data))
			}
			snap.Weights = make([]float32, len(data)/4)
			for j := range snap.Weights {
				snap.Weights[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[j*4:]))
			}
		default:
			// Forward compatibility: skip unknown sections.
		}
	}

	if want := snap.Meta.GridWidth * snap.Meta.GridHeight * snap.Meta.Dimension; len(snap.Weights) != want {
		return nil, fmt.Errorf("snapshot: weight length %d does not match meta (%d expected)", len(snap.Weights), want)
	}

	return snap, nil
}

// writeSection emits: type(2) reserved(2) len(8) crc(4) payload.
// The checksum covers the (compressed) payload bytes.
func writeSection(w io.Writer, typ uint16, data []byte, compression Compression) error {
	payload, err := compress(data, compression)
	if err != nil {
		return err
	}

	var hdr [16]byte
	binary.LittleEndian.PutUint16(hdr[0:2], typ)
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(len(payload)))
	binary.LittleEndian.PutUint32(hdr[12:16], crc32.Checksum(payload, crc32cTable))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// maxSectionSize bounds a section payload so a corrupted or hostile length
// field cannot force a huge allocation before the checksum is verified. The
// largest representable grid (100x100 nodes at dimension 2000) weighs 80 MB
// raw, so 1 GiB leaves ample room for entity payloads.
const maxSectionSize = 1 << 30

func readSection(r io.Reader, compression Compression) (uint16, []byte, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("snapshot: read section header: %w", err)
	}

	typ := binary.LittleEndian.Uint16(hdr[0:2])
	length := binary.LittleEndian.Uint64(hdr[4:12])
	sum := binary.LittleEndian.Uint32(hdr[12:16])

	if length > maxSectionSize {
		return 0, nil, fmt.Errorf("snapshot: section %d length %d exceeds limit %d", typ, length, maxSectionSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("snapshot: read section %d: %w", typ, err)
	}
	if got := crc32.Checksum(payload, crc32cTable); got != sum {
		return 0, nil, fmt.Errorf("snapshot: section %d checksum mismatch: got %08x, want %08x", typ, got, sum)
	}

	data, err := decompress(payload, compression)
	if err != nil {
		return 0, nil, fmt.Errorf("snapshot: section %d: %w", typ, err)
	}
	return typ, data, nil
}

func compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		out := enc.EncodeAll(data, nil)
		_ = enc.Close()
		return out, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %v", compression)
	}
}

func decompress(payload []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return payload, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(payload, nil)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
	default:
		return nil, fmt.Errorf("unsupported compression: %v", compression)
	}
}
