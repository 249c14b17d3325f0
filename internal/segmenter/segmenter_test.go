package segmenter

import (
	"strings"
	"testing"

	"github.com/nimasrn/smpp-transport/pkg/smpp/pdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reassemble(t *testing.T, s *Segmenter, segs []Segment) string {
	t.Helper()
	var b strings.Builder
	for _, seg := range segs {
		d, err := Decode(seg.Payload, seg.Encoding.DataCoding(), seg.UDHI(), s.Packed())
		require.NoError(t, err)
		if seg.UDHI() {
			assert.Equal(t, seg.ConcatRef, d.ConcatRef)
			assert.Equal(t, seg.PartCount, d.PartCount)
			assert.Equal(t, seg.PartIndex, d.PartIndex)
		}
		b.WriteString(d.Text)
	}
	return b.String()
}

func TestSplit_SingleSegmentNoHeader(t *testing.T) {
	s := New()

	cases := map[string]string{
		"short ascii":        "Your code is 1234",
		"exactly 160 gsm7":   strings.Repeat("a", MaxGSM7Single),
		"emoji under 70":     strings.Repeat("x", 47) + "😀",
		"exactly 70 ucs2":    strings.Repeat("ж", MaxUCS2Single),
		"gsm7 extension":     "Price: 10€ [promo]",
		"gsm7 non ascii set": "Grüße, ¿Qué tal? ΔΦ",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			segs, err := s.Split("req-1", text)
			require.NoError(t, err)
			require.Len(t, segs, 1)

			seg := segs[0]
			assert.Equal(t, 1, seg.PartIndex)
			assert.Equal(t, 1, seg.PartCount)
			assert.False(t, seg.UDHI())
			assert.Equal(t, pdu.ESMDefault, seg.ESMClass())
			assert.Equal(t, "req-1", seg.ParentRequestID)
			assert.Equal(t, text, reassemble(t, s, segs))
		})
	}
}

func TestSplit_200AsciiCharacters(t *testing.T) {
	s := New()
	text := strings.Repeat("0123456789", 20)

	segs, err := s.Split("req-200", text)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	for i, seg := range segs {
		assert.Equal(t, GSM7, seg.Encoding)
		assert.Equal(t, i+1, seg.PartIndex)
		assert.Equal(t, 2, seg.PartCount)
		assert.Equal(t, segs[0].ConcatRef, seg.ConcatRef)
		assert.LessOrEqual(t, seg.Units, MaxGSM7Multipart)
		assert.Equal(t, []byte{0x05, 0x00, 0x03, seg.ConcatRef, 2, byte(i + 1)}, seg.Payload[:6])
		assert.Equal(t, pdu.ESMUDHI, seg.ESMClass())
	}
	assert.Equal(t, 153, segs[0].Units)
	assert.Equal(t, 47, segs[1].Units)
	assert.Equal(t, text, reassemble(t, s, segs))
}

func TestSplit_EmojiIsSingleUCS2(t *testing.T) {
	s := New()
	text := strings.Repeat("h", 49) + "🙂"

	segs, err := s.Split("req-emoji", text)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, UCS2, segs[0].Encoding)
	assert.Equal(t, pdu.CodingUCS2, segs[0].Encoding.DataCoding())
	assert.False(t, segs[0].UDHI())
	assert.Equal(t, 51, segs[0].Units)
	assert.Equal(t, text, reassemble(t, s, segs))
}

func TestSplit_PartCountProperty(t *testing.T) {
	s := New()
	for _, n := range []int{161, 200, 306, 307, 459, 460, 1000, 2000} {
		text := strings.Repeat("z", n)
		segs, err := s.Split("p", text)
		require.NoError(t, err)

		want := (n + MaxGSM7Multipart - 1) / MaxGSM7Multipart
		require.Len(t, segs, want, "n=%d", n)

		seen := map[int]bool{}
		for _, seg := range segs {
			assert.LessOrEqual(t, seg.Units, MaxGSM7Multipart)
			assert.Equal(t, segs[0].ConcatRef, seg.ConcatRef)
			assert.False(t, seen[seg.PartIndex])
			seen[seg.PartIndex] = true
		}
		for i := 1; i <= want; i++ {
			assert.True(t, seen[i])
		}
		assert.Equal(t, text, reassemble(t, s, segs))
	}

	for _, n := range []int{71, 134, 135, 300} {
		text := strings.Repeat("ж", n)
		segs, err := s.Split("p", text)
		require.NoError(t, err)
		assert.Len(t, segs, (n+MaxUCS2Multipart-1)/MaxUCS2Multipart, "n=%d", n)
		for _, seg := range segs {
			assert.LessOrEqual(t, seg.Units, MaxUCS2Multipart)
		}
		assert.Equal(t, text, reassemble(t, s, segs))
	}
}

func TestSplit_DoesNotBreakEscapeOrSurrogate(t *testing.T) {
	s := New()

	// 152 plain septets then '€' (ESC + 0x65) straddles the 153 boundary.
	text := strings.Repeat("a", 152) + "€" + strings.Repeat("b", 20)
	segs, err := s.Split("esc", text)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, 152, segs[0].Units)
	assert.Equal(t, text, reassemble(t, s, segs))

	// 66 units then an emoji (surrogate pair) straddles the 67 boundary.
	text = strings.Repeat("ж", 66) + "😀" + strings.Repeat("ж", 10)
	segs, err = s.Split("sur", text)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, 66, segs[0].Units)
	assert.Equal(t, text, reassemble(t, s, segs))
}

func TestSplit_Unpacked(t *testing.T) {
	s := New(WithPackedGSM7(false))
	text := strings.Repeat("q", 200)

	segs, err := s.Split("u", text)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Len(t, segs[0].Payload, 6+153)
	assert.Equal(t, text, reassemble(t, s, segs))
}

func TestSplit_PackedLengths(t *testing.T) {
	s := New()

	segs, err := s.Split("x", strings.Repeat("a", 160))
	require.NoError(t, err)
	assert.Len(t, segs[0].Payload, 140)

	segs, err = s.Split("x", strings.Repeat("a", 306))
	require.NoError(t, err)
	for _, seg := range segs {
		assert.Len(t, seg.Payload, 6+134)
	}
}

func TestSplit_Empty(t *testing.T) {
	_, err := New().Split("e", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSplit_RefRollsAndSplitWithRefKeepsIt(t *testing.T) {
	s := New()
	text := strings.Repeat("r", 300)

	a, err := s.Split("a", text)
	require.NoError(t, err)
	b, err := s.Split("b", text)
	require.NoError(t, err)
	assert.Equal(t, a[0].ConcatRef+1, b[0].ConcatRef)

	again, err := s.SplitWithRef("a", text, a[0].ConcatRef)
	require.NoError(t, err)
	assert.Equal(t, a, again)

	for i := 0; i < 300; i++ {
		s.NextRef()
	}
	assert.NotPanics(t, func() { _, _ = s.Split("c", text) })
}

func TestDetectEncoding(t *testing.T) {
	assert.Equal(t, GSM7, DetectEncoding("hello {world}"))
	assert.Equal(t, UCS2, DetectEncoding("hello 世界"))
	assert.Equal(t, UCS2, DetectEncoding("smile 🙂"))
}

func TestPackSeptets_KnownVector(t *testing.T) {
	// "hellohello" from 3GPP 23.038 examples.
	septets := []byte("hellohello")
	assert.Equal(t, []byte{0xE8, 0x32, 0x9B, 0xFD, 0x46, 0x97, 0xD9, 0xEC, 0x37}, PackSeptets(septets, 0))
	assert.Equal(t, septets, UnpackSeptets(PackSeptets(septets, 0), 0, len(septets)))
	assert.Equal(t, septets, UnpackSeptets(PackSeptets(septets, 1), 1, len(septets)))
}
