package pool

import "testing"

func TestPoolsRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		get  func() []byte
		put  func([]byte)
		size int
	}{
		{"small", GetSmall, PutSmall, SmallSize},
		{"out", GetOut, PutOut, OutSize},
		{"receive", GetReceive, PutReceive, ReceiveSize},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := tc.get()
			if len(buf) != tc.size {
				t.Errorf("len = %d, want %d", len(buf), tc.size)
			}
			tc.put(buf)

			// A shrunken slice must come back at full length.
			buf = tc.get()
			tc.put(buf[:1])
			buf = tc.get()
			if len(buf) != tc.size {
				t.Errorf("after shrink: len = %d, want %d", len(buf), tc.size)
			}
			tc.put(buf)
		})
	}
}

func TestUndersizedBufferNotPooled(t *testing.T) {
	// Must not panic or poison the pool.
	PutSmall(make([]byte, 16))
	if buf := GetSmall(); len(buf) != SmallSize {
		t.Errorf("len = %d, want %d", len(buf), SmallSize)
	}
}
