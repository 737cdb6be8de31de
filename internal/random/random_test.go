package random

import "testing"

func TestTransactionIDVaries(t *testing.T) {
	seen := make(map[uint16]bool)
	for i := 0; i < 64; i++ {
		seen[TransactionID()] = true
	}
	// 64 draws from 65536 values colliding down to 1 bucket is not
	// plausible for a working generator.
	if len(seen) < 2 {
		t.Fatalf("no variation across %d draws", 64)
	}
}
