package segmenter

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/linxGnu/gosmpp/data"
	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
)

const (
	MaxGSM7Single    = 160
	MaxGSM7Multipart = 153
	MaxUCS2Single    = 70
	MaxUCS2Multipart = 67

	udhLen     = 6
	maxParts   = 255
	escSeptet  = 0x1B
	highSurMin = 0xD800
	highSurMax = 0xDBFF
)

var (
	ErrEmptyMessage = errors.New("message text is empty")
	ErrTooManyParts = errors.New("message needs more than 255 segments")
)

type Encoding string

const (
	GSM7 Encoding = "gsm7"
	UCS2 Encoding = "ucs2"
)

func (e Encoding) DataCoding() uint8 {
	if e == UCS2 {
		return pdu.CodingUCS2
	}
	return pdu.CodingDefault
}

// Segment is one submit_sm worth of a message.
type Segment struct {
	ParentRequestID string
	PartIndex       int
	PartCount       int
	Encoding        Encoding
	ConcatRef       uint8
	// Units is the number of septets (gsm7) or UTF-16 code units (ucs2) in this part.
	Units int
	// Payload is the short_message body, including the concatenation header when PartCount > 1.
	Payload []byte
}

func (s Segment) UDHI() bool {
	return s.PartCount > 1
}

func (s Segment) ESMClass() uint8 {
	if s.UDHI() {
		return pdu.ESMUDHI
	}
	return pdu.ESMDefault
}

type Option func(*Segmenter)

// WithPackedGSM7 selects packed (7 bits per character) or unpacked (one octet per septet) GSM7 payloads.
func WithPackedGSM7(packed bool) Option {
	return func(s *Segmenter) {
		s.packed = packed
	}
}

type Segmenter struct {
	packed bool
	ref    atomic.Uint32
}

func New(opts ...Option) *Segmenter {
	s := &Segmenter{packed: true}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Segmenter) Packed() bool {
	return s.packed
}

// NextRef hands out the rolling 8 bit concatenation reference.
func (s *Segmenter) NextRef() uint8 {
	return uint8(s.ref.Add(1))
}

// Split picks the narrowest encoding for text and chunks it, allocating a fresh concatenation reference.
func (s *Segmenter) Split(requestID, text string) ([]Segment, error) {
	return s.SplitWithRef(requestID, text, s.NextRef())
}

// SplitWithRef is Split with a caller supplied reference, so a resumed request keeps its original one.
func (s *Segmenter) SplitWithRef(requestID, text string, ref uint8) ([]Segment, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}

	enc, units, err := encode(text)
	if err != nil {
		return nil, err
	}

	var parts [][]byte
	switch enc {
	case GSM7:
		parts = chunk(units, MaxGSM7Single, MaxGSM7Multipart, 1, splitsEscape)
	case UCS2:
		parts = chunk(units, MaxUCS2Single*2, MaxUCS2Multipart*2, 2, splitsSurrogate)
	}
	if len(parts) > maxParts {
		return nil, fmt.Errorf("%w: %d", ErrTooManyParts, len(parts))
	}

	segments := make([]Segment, len(parts))
	for i, p := range parts {
		seg := Segment{
			ParentRequestID: requestID,
			PartIndex:       i + 1,
			PartCount:       len(parts),
			Encoding:        enc,
			ConcatRef:       ref,
		}
		var udh []byte
		if len(parts) > 1 {
			udh = []byte{0x05, 0x00, 0x03, ref, byte(len(parts)), byte(i + 1)}
		}
		switch enc {
		case GSM7:
			seg.Units = len(p)
			body := p
			if s.packed {
				body = PackSeptets(p, fillBits(len(udh)))
			}
			seg.Payload = append(udh, body...)
		case UCS2:
			seg.Units = len(p) / 2
			seg.Payload = append(udh, p...)
		}
		segments[i] = seg
	}
	return segments, nil
}

// DetectEncoding reports which encoding Split would choose for text.
func DetectEncoding(text string) Encoding {
	if _, ok := gsm7Septets(text); ok {
		return GSM7
	}
	return UCS2
}

func encode(text string) (Encoding, []byte, error) {
	if septets, ok := gsm7Septets(text); ok {
		return GSM7, septets, nil
	}
	b, err := data.UCS2.Encode(text)
	if err != nil {
		return "", nil, fmt.Errorf("ucs2 encode: %w", err)
	}
	return UCS2, b, nil
}

// gsm7Septets encodes text to unpacked GSM 03.38 septets; ok is false when any
// character falls outside the default alphabet and its extension table.
func gsm7Septets(text string) ([]byte, bool) {
	septets, err := data.GSM7BIT.Encode(text)
	if err != nil {
		return nil, false
	}
	back, err := data.GSM7BIT.Decode(septets)
	if err != nil || back != text {
		return nil, false
	}
	return septets, true
}

// chunk splits encoded units into parts. single and multi are octet budgets; step is the
// octet width of one unit; cut reports whether a boundary at i would break a character.
func chunk(b []byte, single, multi, step int, cut func(b []byte, i int) bool) [][]byte {
	if len(b) <= single {
		return [][]byte{b}
	}
	var parts [][]byte
	for len(b) > 0 {
		end := multi
		if end >= len(b) {
			end = len(b)
		} else if cut(b, end) {
			end -= step
		}
		parts = append(parts, b[:end])
		b = b[end:]
	}
	return parts
}

// splitsEscape is true when septet i-1 is the escape prefix of an extension character.
func splitsEscape(b []byte, i int) bool {
	// Count the run of escapes before i; an odd run means b[i-1] opens a pair.
	n := 0
	for j := i - 1; j >= 0 && b[j] == escSeptet; j-- {
		n++
	}
	return n%2 == 1
}

// splitsSurrogate is true when the UTF-16 unit ending at octet i is a high surrogate.
func splitsSurrogate(b []byte, i int) bool {
	u := uint16(b[i-2])<<8 | uint16(b[i-1])
	return u >= highSurMin && u <= highSurMax
}

func fillBits(udhOctets int) int {
	return (7 - (udhOctets*8)%7) % 7
}
