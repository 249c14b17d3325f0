package pdu

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

type writer struct {
	bytes.Buffer
}

func (w *writer) byte1(v uint8) {
	w.WriteByte(v)
}

// cstring writes s followed by NUL. max counts the terminator, 0 means unbounded.
func (w *writer) cstring(field, s string, max int) error {
	if max > 0 && len(s)+1 > max {
		return fmt.Errorf("%w: %s exceeds %d octets", ErrFieldTooLong, field, max-1)
	}
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return fmt.Errorf("%w: %s contains NUL", ErrFieldTooLong, field)
	}
	w.WriteString(s)
	w.WriteByte(0)
	return nil
}

func (w *writer) tlv(t TLV) error {
	if len(t.Value) > 0xFFFF {
		return fmt.Errorf("%w: tlv 0x%04x value too large", ErrFieldTooLong, uint16(t.Tag))
	}
	var b [4]byte
	binary.BigEndian.PutUint16(b[0:2], uint16(t.Tag))
	binary.BigEndian.PutUint16(b[2:4], uint16(len(t.Value)))
	w.Write(b[:])
	w.Write(t.Value)
	return nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) byte1(field string) (uint8, error) {
	if r.remaining() < 1 {
		return 0, malformed("missing %s", field)
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) cstring(field string) (string, error) {
	i := bytes.IndexByte(r.buf[r.off:], 0)
	if i < 0 {
		return "", malformed("unterminated %s", field)
	}
	s := string(r.buf[r.off : r.off+i])
	r.off += i + 1
	return s, nil
}

func (r *reader) octets(field string, n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, malformed("%s declares %d octets, %d left", field, n, r.remaining())
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out, nil
}

func (r *reader) tlvs() (Options, error) {
	var opts Options
	for r.remaining() > 0 {
		if r.remaining() < 4 {
			return nil, malformed("truncated tlv header")
		}
		tag := Tag(binary.BigEndian.Uint16(r.buf[r.off:]))
		n := int(binary.BigEndian.Uint16(r.buf[r.off+2:]))
		r.off += 4
		v, err := r.octets(fmt.Sprintf("tlv 0x%04x", uint16(tag)), n)
		if err != nil {
			return nil, err
		}
		opts = append(opts, TLV{Tag: tag, Value: v})
	}
	return opts, nil
}
