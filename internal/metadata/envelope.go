package metadata

import (
	"encoding/binary"
	"time"
)

// Envelope layout:
//
//	magic(1) | format(1) | expiresAtUnixMs(8, big-endian) | value
//
// expiresAtUnixMs == 0 means the value never expires.
const (
	envelopeMagic   byte = 0x47
	envelopeFormat  byte = 1
	envelopeHdrSize      = 10
)

// EncodeEnvelope wraps value with its absolute expiry time. A zero
// expiresAt produces a non-expiring record.
func EncodeEnvelope(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, envelopeHdrSize+len(value))
	buf[0] = envelopeMagic
	buf[1] = envelopeFormat
	var ms int64
	if !expiresAt.IsZero() {
		ms = expiresAt.UnixMilli()
	}
	binary.BigEndian.PutUint64(buf[2:envelopeHdrSize], uint64(ms))
	copy(buf[envelopeHdrSize:], value)
	return buf
}

// DecodeEnvelope unwraps a value written by EncodeEnvelope. The returned
// expiresAt is zero for non-expiring records.
func DecodeEnvelope(raw []byte) (value []byte, expiresAt time.Time, err error) {
	if len(raw) < envelopeHdrSize || raw[0] != envelopeMagic || raw[1] != envelopeFormat {
		return nil, time.Time{}, ErrCorruptEnvelope
	}
	ms := int64(binary.BigEndian.Uint64(raw[2:envelopeHdrSize]))
	if ms != 0 {
		expiresAt = time.UnixMilli(ms)
	}
	return raw[envelopeHdrSize:], expiresAt, nil
}

// ExpiresAt converts a TTL relative to now into an absolute expiry.
// Returns the zero time when ttl is not positive.
func ExpiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// IsExpired reports whether a record with the given expiry is dead at now.
func IsExpired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
