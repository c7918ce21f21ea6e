// Package qrcode derives the opaque public codes printed on product labels.
//
// A code is the first 16 hex characters of a BLAKE2b-256 digest over the
// product id, its SKU, a random nonce and the creation time. It carries no
// recoverable information about the product and gives a 2^64 keyspace.
package qrcode

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Length is the number of hex characters in a code.
const Length = 16

const nonceSize = 16

// Generate derives a fresh code for a product. Each call uses a new nonce,
// so calling it again after a collision yields a different code.
func Generate(productID uuid.UUID, sku string, now time.Time) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	return Derive(productID, sku, nonce, now), nil
}

// Derive is the deterministic core of Generate.
func Derive(productID uuid.UUID, sku string, nonce []byte, at time.Time) string {
	// blake2b.New256 only fails for keys longer than 64 bytes.
	h, _ := blake2b.New256(nil)
	h.Write(productID[:])
	h.Write([]byte{'|'})
	h.Write([]byte(sku))
	h.Write([]byte{'|'})
	h.Write(nonce)
	h.Write([]byte{'|'})

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixNano()))
	h.Write(ts[:])

	return hex.EncodeToString(h.Sum(nil))[:Length]
}

// Normalize trims and lowercases a scanned code and reports whether it is
// well formed. Callers treat malformed and unknown codes the same way.
func Normalize(code string) (string, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if len(code) != Length {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	return code, true
}
