package tracker

import (
	"github.com/majestrate/swarmwatch/lib/sync"
	"github.com/majestrate/swarmwatch/lib/util"
)

// TxIDRegistry hands out udp transaction ids unique among live sessions
type TxIDRegistry struct {
	access sync.Mutex
	live   map[uint32]struct{}
}

func NewTxIDRegistry() *TxIDRegistry {
	return &TxIDRegistry{
		live: make(map[uint32]struct{}),
	}
}

// Acquire returns a fresh transaction id not held by any live session
func (r *TxIDRegistry) Acquire() (id uint32) {
	r.access.Lock()
	defer r.access.Unlock()
	for {
		id = util.RandUint32()
		if id == 0 {
			continue
		}
		if _, taken := r.live[id]; !taken {
			r.live[id] = struct{}{}
			return
		}
	}
}

// Release returns id to the pool
func (r *TxIDRegistry) Release(id uint32) {
	r.access.Lock()
	delete(r.live, id)
	r.access.Unlock()
}

// Live returns the number of ids currently held
func (r *TxIDRegistry) Live() int {
	r.access.Lock()
	defer r.access.Unlock()
	return len(r.live)
}
