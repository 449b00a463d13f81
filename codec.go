package mvkv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/minio/blake2b-simd"
)

// Digest computes the 32-byte checksum that trails every log record.
type Digest func([]byte) [32]byte

// DefaultDigest is BLAKE2b-256.
var DefaultDigest Digest = blake2b.Sum256

const (
	// record header: total length, entry type, sequence
	recordHeaderSize = 4 + 1 + 8
	digestSize       = 32
	minRecordSize    = recordHeaderSize + digestSize

	dumpMagic      uint32 = 0x444b564d // "MVKD"
	dumpHeaderSize        = 4 + 8 + 4
)

var byteOrder = binary.LittleEndian

func appendUint32(buf []byte, n uint32) []byte {
	return byteOrder.AppendUint32(buf, n)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func decodeUint32(buf []byte, n *uint32) ([]byte, bool) {
	if len(buf) < 4 {
		return nil, false
	}
	*n = byteOrder.Uint32(buf)
	return buf[4:], true
}

func decodeBytes(buf []byte, body *[]byte) ([]byte, bool) {
	var n uint32
	buf, ok := decodeUint32(buf, &n)
	if !ok || uint64(len(buf)) < uint64(n) {
		return nil, false
	}
	*body = buf[:n:n]
	return buf[n:], true
}

// EncodeRecord frames a log entry: header (total length, type, sequence),
// payload, and a digest of header and payload. The total length covers the
// whole record including the digest.
func EncodeRecord(e LogEntry, digest Digest) []byte {
	if digest == nil {
		digest = DefaultDigest
	}
	buf := make([]byte, 4, recordHeaderSize+64)
	buf = append(buf, byte(e.Type))
	buf = byteOrder.AppendUint64(buf, e.Sequence)
	switch e.Type {
	case EntryChange:
		buf = appendUint32(buf, uint32(len(e.Ops)))
		for _, op := range e.Ops {
			buf = append(buf, byte(op.Kind))
			switch op.Kind {
			case OpSet:
				buf = appendBytes(buf, op.Key)
				buf = appendBytes(buf, op.Value)
			case OpDelete:
				buf = appendBytes(buf, op.Key)
			}
		}
	case EntrySnapshot:
		e.Snapshot.ForEach(func(key, value []byte) error {
			buf = appendBytes(buf, key)
			buf = appendBytes(buf, value)
			return nil
		})
	}
	byteOrder.PutUint32(buf, uint32(len(buf)+digestSize))
	sum := digest(buf)
	return append(buf, sum[:]...)
}

// DecodeRecord decodes the record at the start of buf, returning the entry
// and the number of bytes it occupied. It reports false, rather than
// failing, on a short buffer, bad length, digest mismatch or malformed
// payload.
func DecodeRecord(buf []byte, digest Digest) (LogEntry, int, bool) {
	if digest == nil {
		digest = DefaultDigest
	}
	var total uint32
	if _, ok := decodeUint32(buf, &total); !ok {
		return LogEntry{}, 0, false
	}
	if total < minRecordSize || uint64(total) > uint64(len(buf)) {
		return LogEntry{}, 0, false
	}
	body := buf[:total-digestSize]
	sum := digest(body)
	if !bytes.Equal(sum[:], buf[total-digestSize:total]) {
		return LogEntry{}, 0, false
	}
	e := LogEntry{
		Type:     EntryType(body[4]),
		Sequence: byteOrder.Uint64(body[5:recordHeaderSize]),
	}
	payload := body[recordHeaderSize:]
	var ok bool
	switch e.Type {
	case EntryChange:
		e.Ops, ok = decodeOps(payload)
	case EntrySnapshot:
		e.Snapshot, ok = decodeSnapshot(payload)
	}
	if !ok {
		return LogEntry{}, 0, false
	}
	return e, int(total), true
}

func decodeOps(buf []byte) ([]ChangeOperation, bool) {
	var count uint32
	buf, ok := decodeUint32(buf, &count)
	if !ok {
		return nil, false
	}
	// every operation takes at least its tag byte
	if uint64(count) > uint64(len(buf)) {
		return nil, false
	}
	ops := make([]ChangeOperation, count)
	for i := range ops {
		if len(buf) < 1 {
			return nil, false
		}
		op := &ops[i]
		op.Kind = OpKind(buf[0])
		buf = buf[1:]
		switch op.Kind {
		case OpNone:
		case OpSet:
			if buf, ok = decodeBytes(buf, &op.Key); !ok {
				return nil, false
			}
			if buf, ok = decodeBytes(buf, &op.Value); !ok {
				return nil, false
			}
		case OpDelete:
			if buf, ok = decodeBytes(buf, &op.Key); !ok {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return ops, len(buf) == 0
}

func decodeSnapshot(buf []byte) (*Map, bool) {
	var entries []KeyValue
	var ok bool
	for len(buf) > 0 {
		var kv KeyValue
		if buf, ok = decodeBytes(buf, &kv.Key); !ok {
			return nil, false
		}
		if buf, ok = decodeBytes(buf, &kv.Value); !ok {
			return nil, false
		}
		if len(entries) > 0 && compareKeys(entries[len(entries)-1].Key, kv.Key) >= 0 {
			return nil, false
		}
		entries = append(entries, kv)
	}
	if len(entries) == 0 {
		return emptyMap, true
	}
	return &Map{root: persistent.buildSorted(entries), count: len(entries)}, true
}

// EncodeDump writes v in the full-dump format: magic, sequence, entry count,
// then each entry as length-prefixed key and value.
func EncodeDump(w io.Writer, v StoreVersion) error {
	if v.Map.Count() > math.MaxUint32 {
		return fmt.Errorf("%w: %d entries do not fit a dump", ErrInvalidArgument, v.Map.Count())
	}
	buf := make([]byte, 0, dumpHeaderSize)
	buf = appendUint32(buf, dumpMagic)
	buf = byteOrder.AppendUint64(buf, v.Sequence)
	buf = appendUint32(buf, uint32(v.Map.Count()))
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write dump header: %w", err)
	}
	return v.Map.ForEach(func(key, value []byte) error {
		buf = appendBytes(buf[:0], key)
		buf = appendBytes(buf, value)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write dump entry: %w", err)
		}
		return nil
	})
}

// DecodeDump reads a full dump written by EncodeDump.
func DecodeDump(r io.Reader) (StoreVersion, error) {
	header := make([]byte, dumpHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return StoreVersion{}, corruption("dump header", err)
	}
	if magic := byteOrder.Uint32(header); magic != dumpMagic {
		return StoreVersion{}, fmt.Errorf("%w: bad dump magic %#x", ErrCorruption, magic)
	}
	v := StoreVersion{Sequence: byteOrder.Uint64(header[4:])}
	count := byteOrder.Uint32(header[12:])
	var entries []KeyValue
	for i := uint32(0); i < count; i++ {
		key, err := readBytes(r)
		if err != nil {
			return StoreVersion{}, corruption(fmt.Sprintf("dump key %d", i), err)
		}
		value, err := readBytes(r)
		if err != nil {
			return StoreVersion{}, corruption(fmt.Sprintf("dump value %d", i), err)
		}
		if len(entries) > 0 && compareKeys(entries[len(entries)-1].Key, key) >= 0 {
			return StoreVersion{}, fmt.Errorf("%w: dump key %q out of order", ErrCorruption, key)
		}
		entries = append(entries, KeyValue{key, value})
	}
	v.Map = emptyMap
	if len(entries) > 0 {
		v.Map = &Map{root: persistent.buildSorted(entries), count: len(entries)}
	}
	return v, nil
}

func readBytes(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := byteOrder.Uint32(lenBuf[:])
	// grow as data arrives so a corrupt length cannot force a huge allocation
	var body bytes.Buffer
	if _, err := io.CopyN(&body, r, int64(n)); err != nil {
		return nil, err
	}
	return body.Bytes(), nil
}

func corruption(what string, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %s: %v", ErrCorruption, what, err)
}
