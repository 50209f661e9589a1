package eventlog

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haukened/callguard/internal/guard/domain"
)

const (
	sep        = "|"
	delivered  = "DELIVERED"
	suppressed = "SUPPRESSED"
)

// key layout: 8 bytes big-endian unix millis, 8 bytes big-endian sequence,
// then the identifier. Keys sort chronologically; the sequence keeps events
// with the same millisecond distinct and in append order.
func eventKey(at time.Time, seq uint64, id string) []byte {
	k := make([]byte, 16+len(id))
	binary.BigEndian.PutUint64(k[0:8], uint64(at.UnixMilli()))
	binary.BigEndian.PutUint64(k[8:16], seq)
	copy(k[16:], id)
	return k
}

func keyMillis(k []byte) int64 {
	if len(k) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(k[0:8]))
}

// sanitize keeps the delimiter out of the identifier field.
func sanitize(id string) string {
	return strings.ReplaceAll(id, sep, "")
}

func encodeCall(e domain.CallEvent) []byte {
	return []byte(strings.Join([]string{
		sanitize(e.Identifier),
		e.Outcome.String(),
		strconv.FormatInt(e.Timestamp.UnixMilli(), 10),
		e.Direction.String(),
	}, sep))
}

func decodeCall(v []byte) (domain.CallEvent, error) {
	parts := strings.Split(string(v), sep)
	if len(parts) < 3 {
		return domain.CallEvent{}, fmt.Errorf("malformed call record %q", v)
	}
	outcome, err := domain.ParseOutcome(parts[1])
	if err != nil {
		return domain.CallEvent{}, err
	}
	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return domain.CallEvent{}, fmt.Errorf("call record timestamp: %w", err)
	}
	e := domain.CallEvent{
		Identifier: parts[0],
		Outcome:    outcome,
		Timestamp:  time.UnixMilli(ms).UTC(),
	}
	if len(parts) > 3 {
		e.Direction = domain.ParseDirection(parts[3])
	}
	return e, nil
}

// encodeMessage puts the body last so it may itself contain the delimiter.
func encodeMessage(e domain.MessageEvent) []byte {
	verdict := suppressed
	if e.Delivered {
		verdict = delivered
	}
	return []byte(strings.Join([]string{
		sanitize(e.Identifier),
		verdict,
		strconv.FormatInt(e.Timestamp.UnixMilli(), 10),
		e.Body,
	}, sep))
}

func decodeMessage(v []byte) (domain.MessageEvent, error) {
	parts := strings.SplitN(string(v), sep, 4)
	if len(parts) < 3 {
		return domain.MessageEvent{}, fmt.Errorf("malformed message record %q", v)
	}
	var ok bool
	switch parts[1] {
	case delivered:
		ok = true
	case suppressed:
	default:
		return domain.MessageEvent{}, fmt.Errorf("unsupported message verdict %q", parts[1])
	}
	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return domain.MessageEvent{}, fmt.Errorf("message record timestamp: %w", err)
	}
	e := domain.MessageEvent{
		Identifier: parts[0],
		Delivered:  ok,
		Timestamp:  time.UnixMilli(ms).UTC(),
	}
	if len(parts) == 4 {
		e.Body = parts[3]
	}
	return e, nil
}
