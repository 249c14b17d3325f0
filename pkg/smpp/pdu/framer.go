package pdu

import (
	"encoding/binary"
	"io"
)

// Framer reassembles PDUs from a byte stream that is not aligned to PDU boundaries.
// Partial frames stay buffered until a later Feed completes them.
type Framer struct {
	buf []byte
}

func (f *Framer) Feed(chunk []byte) {
	f.buf = append(f.buf, chunk...)
}

// Buffered returns the number of octets waiting for the rest of their frame.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next returns the next complete PDU, or (nil, nil) when more bytes are needed.
// A frame with an impossible command_length poisons the stream and is reported as
// MalformedPdu; a well framed PDU with a bad body is consumed and reported so the
// caller can nack it and continue.
func (f *Framer) Next() (*PDU, error) {
	if len(f.buf) < 4 {
		return nil, nil
	}
	n := binary.BigEndian.Uint32(f.buf[0:4])
	if n < HeaderLen || n > MaxPDULen {
		return nil, malformed("command_length %d out of range", n)
	}
	if uint32(len(f.buf)) < n {
		return nil, nil
	}

	frame := make([]byte, n)
	copy(frame, f.buf[:n])
	f.buf = f.buf[n:]
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return Decode(frame)
}

// Reader reads PDUs from a stream connection.
type Reader struct {
	r     io.Reader
	f     Framer
	chunk []byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, chunk: make([]byte, 4096)}
}

func (r *Reader) Read() (*PDU, error) {
	for {
		p, err := r.f.Next()
		if err != nil || p != nil {
			return p, err
		}
		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.f.Feed(r.chunk[:n])
			continue
		}
		if err != nil {
			if err == io.EOF && r.f.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}
