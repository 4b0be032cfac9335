package services

import (
	"hash/fnv"
	"sync"
)

const pairLockStripes = 256

// pairLocks serialises work on the same canonical pair inside this process.
// Distinct pairs only contend when they hash to the same stripe.
type pairLocks struct {
	stripes [pairLockStripes]sync.Mutex
}

func (p *pairLocks) lock(low, high string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(low))
	h.Write([]byte{0})
	h.Write([]byte(high))

	m := &p.stripes[h.Sum32()%pairLockStripes]
	m.Lock()
	return m.Unlock
}
