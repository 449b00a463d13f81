package mvkv

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// HeadName is the blob name of the manifest naming the latest export.
const HeadName = "HEAD"

// Manifest describes one exported dump.
type Manifest struct {
	Sequence   uint64
	Count      uint64
	Name       string
	Compressed bool
	// Digest is DefaultDigest over the stored (possibly compressed) blob.
	Digest [32]byte
}

const (
	manifestSequence protowire.Number = iota + 1
	manifestCount
	manifestName
	manifestCompressed
	manifestDigest
)

func (m Manifest) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, manifestSequence, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Sequence)
	b = protowire.AppendTag(b, manifestCount, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Count)
	b = protowire.AppendTag(b, manifestName, protowire.BytesType)
	b = protowire.AppendString(b, m.Name)
	b = protowire.AppendTag(b, manifestCompressed, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(m.Compressed))
	b = protowire.AppendTag(b, manifestDigest, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Digest[:])
	return b
}

func unmarshalManifest(b []byte) (Manifest, error) {
	var m Manifest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("%w: manifest tag: %v", ErrCorruption, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == manifestSequence && typ == protowire.VarintType:
			m.Sequence, n = protowire.ConsumeVarint(b)
		case num == manifestCount && typ == protowire.VarintType:
			m.Count, n = protowire.ConsumeVarint(b)
		case num == manifestName && typ == protowire.BytesType:
			m.Name, n = protowire.ConsumeString(b)
		case num == manifestCompressed && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.Compressed = protowire.DecodeBool(v)
		case num == manifestDigest && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 && len(v) != len(m.Digest) {
				return m, fmt.Errorf("%w: manifest digest is %d bytes", ErrCorruption, len(v))
			}
			copy(m.Digest[:], v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return m, fmt.Errorf("%w: manifest field %d: %v", ErrCorruption, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return m, nil
}

// DumpName is the blob name of the dump of the given sequence.
func DumpName(seq uint64) string {
	return fmt.Sprintf("dump-%020d", seq)
}

// ExportOptions controls Export.
type ExportOptions struct {
	Compress bool
}

// Export stores v as a full dump through p and then points HEAD at it.
func Export(ctx context.Context, p Persist, v StoreVersion, opts ExportOptions) (Manifest, error) {
	var dump bytes.Buffer
	var w io.Writer = &dump
	var enc *zstd.Encoder
	if opts.Compress {
		var err error
		enc, err = zstd.NewWriter(&dump)
		if err != nil {
			return Manifest{}, fmt.Errorf("zstd writer: %w", err)
		}
		w = enc
	}
	if err := EncodeDump(w, v); err != nil {
		return Manifest{}, err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return Manifest{}, fmt.Errorf("zstd close: %w", err)
		}
	}
	m := Manifest{
		Sequence:   v.Sequence,
		Count:      uint64(v.Map.Count()),
		Name:       DumpName(v.Sequence),
		Compressed: opts.Compress,
		Digest:     DefaultDigest(dump.Bytes()),
	}
	if err := p.Store(ctx, m.Name, dump.Bytes()); err != nil {
		return Manifest{}, fmt.Errorf("store %s: %w", m.Name, err)
	}
	if err := p.Store(ctx, HeadName, m.marshal()); err != nil {
		return Manifest{}, fmt.Errorf("store %s: %w", HeadName, err)
	}
	return m, nil
}

// Import loads the dump named by HEAD from p, verifying its digest.
func Import(ctx context.Context, p Persist) (StoreVersion, Manifest, error) {
	head, err := p.Load(ctx, HeadName)
	if err != nil {
		return StoreVersion{}, Manifest{}, fmt.Errorf("load %s: %w", HeadName, err)
	}
	m, err := unmarshalManifest(head)
	if err != nil {
		return StoreVersion{}, Manifest{}, err
	}
	v, err := ImportManifest(ctx, p, m)
	return v, m, err
}

// ImportManifest loads the dump described by m from p.
func ImportManifest(ctx context.Context, p Persist, m Manifest) (StoreVersion, error) {
	blob, err := p.Load(ctx, m.Name)
	if err != nil {
		return StoreVersion{}, fmt.Errorf("load %s: %w", m.Name, err)
	}
	if DefaultDigest(blob) != m.Digest {
		return StoreVersion{}, fmt.Errorf("%w: digest mismatch for %s", ErrCorruption, m.Name)
	}
	var r io.Reader = bytes.NewReader(blob)
	if m.Compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return StoreVersion{}, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	v, err := DecodeDump(r)
	if err != nil {
		return StoreVersion{}, fmt.Errorf("decode %s: %w", m.Name, err)
	}
	if v.Sequence != m.Sequence || uint64(v.Map.Count()) != m.Count {
		return StoreVersion{}, fmt.Errorf("%w: %s holds sequence %d with %d entries, manifest says %d with %d",
			ErrCorruption, m.Name, v.Sequence, v.Map.Count(), m.Sequence, m.Count)
	}
	return v, nil
}
