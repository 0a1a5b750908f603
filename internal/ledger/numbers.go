package ledger

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// NewEntryNumber derives a collision-resistant journal entry number from the
// posting date plus a random suffix. Counting existing rows and adding one
// races under concurrent posting, so the number is never derived from a
// read-then-increment counter.
func NewEntryNumber(now time.Time) string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// rand.Read on supported platforms does not fail; fall back to
		// the clock so posting still proceeds.
		binary.BigEndian.PutUint32(buf[:], uint32(now.UnixNano()))
	}
	return fmt.Sprintf("JE-%s-%08X", now.Format("20060102"), binary.BigEndian.Uint32(buf[:]))
}
