// Package pool holds the shared byte-buffer pools. Receive loops and the
// resolver's per-call sockets churn through buffers at line rate; pooling
// keeps that off the garbage collector. Every Get is paired with a Put on
// every exit path.
package pool

import "sync"

const (
	// SmallSize fits a classic unicast UDP exchange.
	SmallSize = 512

	// OutSize fits any multicast datagram this library emits.
	OutSize = 4096

	// ReceiveSize covers the largest multicast payloads: 8972 bytes on
	// IPv4 and 8952 on IPv6 (interface MTU ceiling of 9000 less IP and
	// UDP headers).
	ReceiveSize = 9216

	MaxInboundV4 = 8972
	MaxInboundV6 = 8952
)

var smallPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, SmallSize)
		return &buf
	},
}

// GetSmall returns a 512-byte buffer for resolver send/receive.
func GetSmall() []byte {
	return (*smallPool.Get().(*[]byte))[:SmallSize]
}

// PutSmall returns the buffer. Undersized buffers are not pooled.
func PutSmall(buf []byte) {
	if cap(buf) < SmallSize {
		return
	}
	buf = buf[:cap(buf)]
	smallPool.Put(&buf)
}

var outPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, OutSize)
		return &buf
	},
}

// GetOut returns a 4 KiB buffer for outgoing multicast datagrams.
func GetOut() []byte {
	return (*outPool.Get().(*[]byte))[:OutSize]
}

func PutOut(buf []byte) {
	if cap(buf) < OutSize {
		return
	}
	buf = buf[:cap(buf)]
	outPool.Put(&buf)
}

var receivePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ReceiveSize)
		return &buf
	},
}

// GetReceive returns a buffer large enough for any multicast datagram.
func GetReceive() []byte {
	return (*receivePool.Get().(*[]byte))[:ReceiveSize]
}

func PutReceive(buf []byte) {
	if cap(buf) < ReceiveSize {
		return
	}
	buf = buf[:cap(buf)]
	receivePool.Put(&buf)
}
