// Package pdu decodes inbound SMS-DELIVER transfer protocol data units
// (3GPP TS 23.040) into an originating address and a text body.
package pdu

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	ErrTruncated      = errors.New("pdu truncated")
	ErrNotDeliver     = errors.New("pdu is not an SMS-DELIVER")
	ErrInvalidEncoded = errors.New("pdu hex encoding invalid")
)

// Alphabet is the user-data character set selected by the DCS octet.
type Alphabet uint8

const (
	AlphabetGSM7 Alphabet = iota
	Alphabet8Bit
	AlphabetUCS2
)

// Concat is the concatenated-SMS information element from the user data header.
type Concat struct {
	Reference uint16
	Total     uint8
	Sequence  uint8
}

// Deliver is a decoded SMS-DELIVER fragment.
type Deliver struct {
	Originator string
	Body       string
	Alphabet   Alphabet
	SentAt     time.Time
	Concat     *Concat
}

// DecodeHex decodes a hex-encoded PDU that includes the leading SMSC field.
func DecodeHex(s string) (Deliver, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Deliver{}, fmt.Errorf("%w: %v", ErrInvalidEncoded, err)
	}
	return Decode(raw)
}

// Decode parses a binary PDU that includes the leading SMSC field.
func Decode(b []byte) (Deliver, error) {
	r := reader{buf: b}

	smscLen, err := r.byte()
	if err != nil {
		return Deliver{}, err
	}
	if err := r.skip(int(smscLen)); err != nil {
		return Deliver{}, err
	}

	first, err := r.byte()
	if err != nil {
		return Deliver{}, err
	}
	if first&0x03 != 0x00 {
		return Deliver{}, fmt.Errorf("%w: mti=%d", ErrNotDeliver, first&0x03)
	}
	hasUDH := first&0x40 != 0

	var d Deliver
	if d.Originator, err = r.address(); err != nil {
		return Deliver{}, err
	}
	if _, err = r.byte(); err != nil { // TP-PID
		return Deliver{}, err
	}
	dcs, err := r.byte()
	if err != nil {
		return Deliver{}, err
	}
	d.Alphabet = alphabetFromDCS(dcs)

	scts, err := r.take(7)
	if err != nil {
		return Deliver{}, err
	}
	d.SentAt = decodeTimestamp(scts)

	udl, err := r.byte()
	if err != nil {
		return Deliver{}, err
	}
	ud := r.rest()

	d.Body, d.Concat, err = decodeUserData(ud, int(udl), d.Alphabet, hasUDH)
	if err != nil {
		return Deliver{}, err
	}
	return d, nil
}

func alphabetFromDCS(dcs byte) Alphabet {
	switch {
	case dcs&0xC0 == 0x00:
		switch (dcs >> 2) & 0x03 {
		case 1:
			return Alphabet8Bit
		case 2:
			return AlphabetUCS2
		}
		return AlphabetGSM7
	case dcs&0xF0 == 0xE0:
		return AlphabetUCS2
	case dcs&0xF0 == 0xF0:
		if dcs&0x04 != 0 {
			return Alphabet8Bit
		}
	}
	return AlphabetGSM7
}

func decodeUserData(ud []byte, udl int, alpha Alphabet, hasUDH bool) (string, *Concat, error) {
	var (
		concat    *Concat
		headerLen int // octets, including the UDHL octet itself
	)
	if hasUDH {
		if len(ud) < 1 {
			return "", nil, ErrTruncated
		}
		headerLen = int(ud[0]) + 1
		if len(ud) < headerLen {
			return "", nil, ErrTruncated
		}
		concat = parseConcat(ud[1:headerLen])
	}

	switch alpha {
	case AlphabetGSM7:
		need := (udl*7 + 7) / 8
		if len(ud) < need {
			return "", nil, ErrTruncated
		}
		septets := unpackSeptets(ud, udl)
		skip := 0
		if headerLen > 0 {
			skip = (headerLen*8 + 6) / 7
		}
		if skip > len(septets) {
			return "", nil, ErrTruncated
		}
		return gsm7ToString(septets[skip:]), concat, nil
	default:
		if len(ud) < udl || udl < headerLen {
			return "", nil, ErrTruncated
		}
		body := ud[headerLen:udl]
		var (
			out []byte
			err error
		)
		if alpha == AlphabetUCS2 {
			out, err = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(body)
		} else {
			out, err = charmap.ISO8859_1.NewDecoder().Bytes(body)
		}
		if err != nil {
			return "", nil, fmt.Errorf("decode user data: %w", err)
		}
		return string(out), concat, nil
	}
}

// parseConcat extracts IEI 0x00 (8-bit ref) or 0x08 (16-bit ref).
func parseConcat(h []byte) *Concat {
	for i := 0; i+1 < len(h); {
		iei, l := h[i], int(h[i+1])
		data := h[i+2:]
		if len(data) < l {
			return nil
		}
		data = data[:l]
		switch {
		case iei == 0x00 && l == 3:
			return &Concat{Reference: uint16(data[0]), Total: data[1], Sequence: data[2]}
		case iei == 0x08 && l == 4:
			return &Concat{Reference: uint16(data[0])<<8 | uint16(data[1]), Total: data[2], Sequence: data[3]}
		}
		i += 2 + l
	}
	return nil
}

func unpackSeptets(b []byte, n int) []byte {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		bit := i * 7
		idx, shift := bit/8, uint(bit%8)
		if idx >= len(b) {
			break
		}
		v := b[idx] >> shift
		if shift > 1 && idx+1 < len(b) {
			v |= b[idx+1] << (8 - shift)
		}
		out = append(out, v&0x7F)
	}
	return out
}

// decodeTimestamp parses the 7-octet service centre timestamp.
// Invalid digits yield the zero time.
func decodeTimestamp(b []byte) time.Time {
	f := make([]int, 6)
	for i := 0; i < 6; i++ {
		lo, hi := int(b[i]&0x0F), int(b[i]>>4)
		if lo > 9 || hi > 9 {
			return time.Time{}
		}
		f[i] = lo*10 + hi
	}
	tz := b[6]
	quarters := int(tz&0x07)*10 + int(tz>>4)
	offset := quarters * 15 * 60
	if tz&0x08 != 0 {
		offset = -offset
	}
	loc := time.FixedZone("", offset)
	year := 2000 + f[0]
	if f[0] >= 90 {
		year = 1900 + f[0]
	}
	return time.Date(year, time.Month(f[1]), f[2], f[3], f[4], f[5], 0, loc)
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, ErrTruncated
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) skip(n int) error {
	_, err := r.take(n)
	return err
}

func (r *reader) rest() []byte { return r.buf[r.off:] }

// address reads TP-OA: digit count, type-of-address, then semi-octets
// (or packed GSM 7-bit characters for alphanumeric senders).
func (r *reader) address() (string, error) {
	digits, err := r.byte()
	if err != nil {
		return "", err
	}
	toa, err := r.byte()
	if err != nil {
		return "", err
	}
	raw, err := r.take((int(digits) + 1) / 2)
	if err != nil {
		return "", err
	}

	ton := (toa >> 4) & 0x07
	if ton == 0x05 {
		return gsm7ToString(unpackSeptets(raw, int(digits)*4/7)), nil
	}

	var b strings.Builder
	if ton == 0x01 {
		b.WriteByte('+')
	}
	for i := 0; i < int(digits); i++ {
		n := raw[i/2]
		if i%2 == 1 {
			n >>= 4
		}
		n &= 0x0F
		switch {
		case n <= 9:
			b.WriteByte('0' + n)
		case n == 0x0A:
			b.WriteByte('*')
		case n == 0x0B:
			b.WriteByte('#')
		case n <= 0x0E:
			b.WriteByte('a' + n - 0x0C)
		}
	}
	return b.String(), nil
}
