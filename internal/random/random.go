// Package random sources transaction ids from crypto/rand. Predictable
// ids make off-path response spoofing practical, so math/rand is never
// acceptable here.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// TransactionID returns a cryptographically random 16-bit id.
func TransactionID() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Proceeding with a predictable id would be a security flaw.
		panic(fmt.Sprintf("random: crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}
