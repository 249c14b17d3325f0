package pdu

import "encoding/binary"

type TLV struct {
	Tag   Tag
	Value []byte
}

type Options []TLV

func (o Options) Get(tag Tag) ([]byte, bool) {
	for _, t := range o {
		if t.Tag == tag {
			return t.Value, true
		}
	}
	return nil, false
}

// CString returns a C-string TLV value without its terminator.
func (o Options) CString(tag Tag) (string, bool) {
	v, ok := o.Get(tag)
	if !ok {
		return "", false
	}
	for i, c := range v {
		if c == 0 {
			v = v[:i]
			break
		}
	}
	return string(v), true
}

func (o Options) Uint8(tag Tag) (uint8, bool) {
	v, ok := o.Get(tag)
	if !ok || len(v) < 1 {
		return 0, false
	}
	return v[0], true
}

func StringTLV(tag Tag, s string) TLV {
	v := make([]byte, len(s)+1)
	copy(v, s)
	return TLV{Tag: tag, Value: v}
}

func Uint8TLV(tag Tag, n uint8) TLV {
	return TLV{Tag: tag, Value: []byte{n}}
}

func Uint16TLV(tag Tag, n uint16) TLV {
	v := make([]byte, 2)
	binary.BigEndian.PutUint16(v, n)
	return TLV{Tag: tag, Value: v}
}

// NetworkError builds the 3 octet network_error_code value: network type followed by a 16 bit code.
func NetworkError(networkType uint8, code uint16) TLV {
	v := []byte{networkType, 0, 0}
	binary.BigEndian.PutUint16(v[1:], code)
	return TLV{Tag: TagNetworkErrorCode, Value: v}
}

// NetworkErrorCode extracts the 16 bit code from a network_error_code TLV.
func (o Options) NetworkErrorCode() (uint16, bool) {
	v, ok := o.Get(TagNetworkErrorCode)
	if !ok || len(v) != 3 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v[1:]), true
}
