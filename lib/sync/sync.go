package sync

import (
	"sync"
)

type Mutex = sync.Mutex
type RWMutex = sync.RWMutex
type WaitGroup = sync.WaitGroup
type Map = sync.Map
type Once = sync.Once
type Cond = sync.Cond

func NewCond(l sync.Locker) *Cond {
	return sync.NewCond(l)
}
