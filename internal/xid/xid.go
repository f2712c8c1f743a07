package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// New mints an opaque identifier with the given prefix. IDs sort roughly by
// creation time and carry enough entropy to avoid collisions across processes.
func New(prefix string) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s-%s", prefix, strconv.FormatInt(time.Now().UTC().UnixNano(), 36), hex.EncodeToString(buf))
}

// QuoteNumber renders a human-displayable quote number from a year and a
// store-assigned sequence value, e.g. Q-2026-000042.
func QuoteNumber(year int, seq int64) string {
	return fmt.Sprintf("Q-%d-%06d", year, seq)
}
