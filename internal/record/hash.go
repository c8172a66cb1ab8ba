package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// encoding to change without colliding with older hashes.
const (
	DomainRecord = "portalmover/record/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash digests the canonical encoding of a record. Two records with
// the same identity and attributes always hash the same, regardless of the
// order attributes were set in.
func ContentHash(r Record) (string, error) {
	canonical, err := MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("content hash: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// MustContentHash is like ContentHash but panics on error.
// Use only in tests or when the record is known to be valid.
func MustContentHash(r Record) string {
	h, err := ContentHash(r)
	if err != nil {
		panic(err)
	}
	return h
}
