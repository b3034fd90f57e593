package utils

import (
	"fmt"
	"sync/atomic"
	"time"
)

var idSeq uint64

// GenID returns a server-assigned message id. The nanosecond timestamp
// plus a process-local counter keeps ids unique under concurrent sends.
func GenID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}

// GenCallID returns an id for an ephemeral call session.
func GenCallID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("call-%d-%d", n, s)
}

// SortKey returns a lexicographically sortable key fragment for ordered
// store namespaces (padded nanos plus sequence).
func SortKey() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("%020d-%06d", n, s)
}
