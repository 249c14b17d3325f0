package segmenter

import (
	"fmt"

	"github.com/linxGnu/gosmpp/data"
	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
)

// PackSeptets packs septets 7 bits at a time, LSB first, after fill leading zero bits.
// fill aligns the first character to a septet boundary when a UDH precedes it.
// Seven spare bits at the end are set to CR so the receiver does not read them as '@'.
func PackSeptets(septets []byte, fill int) []byte {
	total := fill + 7*len(septets)
	out := make([]byte, (total+7)/8)
	bit := fill
	for _, s := range septets {
		v := uint16(s&0x7F) << (bit % 8)
		idx := bit / 8
		out[idx] |= byte(v)
		if hi := byte(v >> 8); hi != 0 {
			out[idx+1] |= hi
		}
		bit += 7
	}
	if len(out)*8-total == 7 {
		out[len(out)-1] |= cr << 1
	}
	return out
}

// UnpackSeptets reverses PackSeptets for count characters.
func UnpackSeptets(packed []byte, fill, count int) []byte {
	out := make([]byte, 0, count)
	bit := fill
	for i := 0; i < count; i++ {
		idx := bit / 8
		if idx >= len(packed) {
			break
		}
		v := uint16(packed[idx])
		if idx+1 < len(packed) {
			v |= uint16(packed[idx+1]) << 8
		}
		out = append(out, byte(v>>(bit%8))&0x7F)
		bit += 7
	}
	return out
}

const cr = 0x0D

// Decoded is one short_message taken apart again, used by the simulator and tests.
type Decoded struct {
	Text      string
	ConcatRef uint8
	PartCount int
	PartIndex int
}

// Decode parses a short_message produced by Split. For packed GSM7 the character
// count is derived from the payload length and a CR filling the last septet is dropped.
func Decode(sm []byte, dataCoding uint8, udhi, packed bool) (Decoded, error) {
	var d Decoded
	body := sm
	udhOctets := 0
	if udhi {
		if len(sm) < 1 || int(sm[0])+1 > len(sm) {
			return d, fmt.Errorf("udh length %d exceeds payload", len(sm))
		}
		udhOctets = int(sm[0]) + 1
		ie := sm[1:udhOctets]
		if len(ie) >= 5 && ie[0] == 0x00 && ie[1] == 0x03 {
			d.ConcatRef = ie[2]
			d.PartCount = int(ie[3])
			d.PartIndex = int(ie[4])
		}
		body = sm[udhOctets:]
	}

	switch dataCoding {
	case pdu.CodingUCS2:
		s, err := data.UCS2.Decode(body)
		if err != nil {
			return d, err
		}
		d.Text = s
	default:
		septets := body
		if packed {
			fill := fillBits(udhOctets)
			count := (len(body)*8 - fill) / 7
			septets = UnpackSeptets(body, fill, count)
			if n := len(septets); n > 0 && septets[n-1] == cr && (len(body)*8-fill)%7 == 0 {
				septets = septets[:n-1]
			}
		}
		s, err := data.GSM7BIT.Decode(septets)
		if err != nil {
			return d, err
		}
		d.Text = s
	}
	return d, nil
}
