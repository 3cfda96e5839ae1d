package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

func floatBits(f float64) uint64      { return math.Float64bits(f) }
func floatFromBits(b uint64) float64  { return math.Float64frombits(b) }

// Value is anything storable via Storage.Write/WritePersistent: a string,
// an int64, a float64, a bool, a []Value, or a map[string]Value (§4.3).
type Value any

// Type bytes for the encoding scheme of §4.3: <type-byte><payload>.
const (
	typeString byte = iota + 1
	typeInt
	typeFloat
	typeBool
	typeList
	typeMap
)

const maxLen = 0xFFFF // lengths exceeding 65535 are rejected (§4.3)

// Encode produces the <type-byte><payload> wire form of v.
func Encode(v Value) ([]byte, error) {
	switch t := v.(type) {
	case string:
		if len(t) > maxLen {
			return nil, fmt.Errorf("storage: string value too long (%d bytes)", len(t))
		}
		return append([]byte{typeString}, t...), nil
	case int:
		return encodeInt(int64(t)), nil
	case int64:
		return encodeInt(t), nil
	case float64:
		return encodeFloat(t), nil
	case bool:
		b := byte(0)
		if t {
			b = 1
		}
		return []byte{typeBool, b}, nil
	case []Value:
		return encodeList(t)
	case map[string]Value:
		return encodeMap(t)
	default:
		return nil, fmt.Errorf("storage: unsupported value type %T", v)
	}
}

func encodeInt(i int64) []byte {
	buf := make([]byte, 9)
	buf[0] = typeInt
	binary.LittleEndian.PutUint64(buf[1:], uint64(i))
	return buf
}

func encodeFloat(f float64) []byte {
	buf := make([]byte, 9)
	buf[0] = typeFloat
	binary.LittleEndian.PutUint64(buf[1:], floatBits(f))
	return buf
}

func encodeList(list []Value) ([]byte, error) {
	out := []byte{typeList}
	for _, item := range list {
		enc, err := Encode(item)
		if err != nil {
			return nil, err
		}
		if len(enc) > maxLen {
			return nil, fmt.Errorf("storage: list item too long (%d bytes)", len(enc))
		}
		out = appendU16(out, uint16(len(enc)))
		out = append(out, enc...)
	}
	return out, nil
}

func encodeMap(m map[string]Value) ([]byte, error) {
	out := []byte{typeMap}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic encoding for round-trip tests
	for _, k := range keys {
		if len(k) > maxLen {
			return nil, fmt.Errorf("storage: map key too long (%d bytes)", len(k))
		}
		enc, err := Encode(m[k])
		if err != nil {
			return nil, err
		}
		if len(enc) > maxLen {
			return nil, fmt.Errorf("storage: map value too long (%d bytes)", len(enc))
		}
		out = appendU16(out, uint16(len(k)))
		out = append(out, k...)
		out = appendU16(out, uint16(len(enc)))
		out = append(out, enc...)
	}
	return out, nil
}

func appendU16(b []byte, n uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], n)
	return append(b, tmp[:]...)
}

// Decode parses the <type-byte><payload> wire form produced by Encode.
// A declared type byte out of range, or inner length prefixes that
// overflow the payload, is a StorageCorruption error (§7).
func Decode(b []byte) (Value, error) {
	v, rest, err := decodeOne(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing %d bytes after value", ErrCorruption, len(rest))
	}
	return v, nil
}

func decodeOne(b []byte) (Value, []byte, error) {
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("%w: empty buffer", ErrCorruption)
	}
	switch b[0] {
	case typeString:
		return string(b[1:]), nil, nil
	case typeInt:
		if len(b) < 9 {
			return nil, nil, fmt.Errorf("%w: truncated int", ErrCorruption)
		}
		return int64(binary.LittleEndian.Uint64(b[1:9])), b[9:], nil
	case typeFloat:
		if len(b) < 9 {
			return nil, nil, fmt.Errorf("%w: truncated float", ErrCorruption)
		}
		return floatFromBits(binary.LittleEndian.Uint64(b[1:9])), b[9:], nil
	case typeBool:
		if len(b) < 2 {
			return nil, nil, fmt.Errorf("%w: truncated bool", ErrCorruption)
		}
		return b[1] != 0, b[2:], nil
	case typeList:
		return decodeList(b[1:])
	case typeMap:
		return decodeMap(b[1:])
	default:
		return nil, nil, fmt.Errorf("%w: unknown type byte %d", ErrCorruption, b[0])
	}
}

func decodeList(b []byte) (Value, []byte, error) {
	var out []Value
	rest := b
	for len(rest) > 0 {
		if len(rest) < 2 {
			return nil, nil, fmt.Errorf("%w: truncated list length prefix", ErrCorruption)
		}
		n := int(binary.LittleEndian.Uint16(rest[:2]))
		rest = rest[2:]
		if n > len(rest) {
			return nil, nil, fmt.Errorf("%w: list item length overflows payload", ErrCorruption)
		}
		item, trailing, err := decodeOne(rest[:n])
		if err != nil {
			return nil, nil, err
		}
		if len(trailing) != 0 {
			return nil, nil, fmt.Errorf("%w: trailing bytes inside list item", ErrCorruption)
		}
		out = append(out, item)
		rest = rest[n:]
	}
	return out, nil, nil
}

func decodeMap(b []byte) (Value, []byte, error) {
	out := make(map[string]Value)
	rest := b
	for len(rest) > 0 {
		if len(rest) < 2 {
			return nil, nil, fmt.Errorf("%w: truncated map key-length prefix", ErrCorruption)
		}
		klen := int(binary.LittleEndian.Uint16(rest[:2]))
		rest = rest[2:]
		if klen > len(rest) {
			return nil, nil, fmt.Errorf("%w: map key length overflows payload", ErrCorruption)
		}
		key := string(rest[:klen])
		rest = rest[klen:]
		if len(rest) < 2 {
			return nil, nil, fmt.Errorf("%w: truncated map value-length prefix", ErrCorruption)
		}
		vlen := int(binary.LittleEndian.Uint16(rest[:2]))
		rest = rest[2:]
		if vlen > len(rest) {
			return nil, nil, fmt.Errorf("%w: map value length overflows payload", ErrCorruption)
		}
		val, trailing, err := decodeOne(rest[:vlen])
		if err != nil {
			return nil, nil, err
		}
		if len(trailing) != 0 {
			return nil, nil, fmt.Errorf("%w: trailing bytes inside map value", ErrCorruption)
		}
		out[key] = val
		rest = rest[vlen:]
	}
	return out, nil, nil
}
