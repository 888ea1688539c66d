package utils

import (
	"math/rand"
	"sync"

	"github.com/Pallinder/go-randomdata"
)

// RandomNameGenerator hands out unique human readable names,
// used for resources registered without a name
type RandomNameGenerator struct {
	mu     sync.Mutex
	names  map[string]struct{}
	seeded bool
}

func (rng *RandomNameGenerator) RandomName() string {
	rng.mu.Lock()
	defer rng.mu.Unlock()

	if rng.names == nil {
		rng.names = make(map[string]struct{})
	}
	if !rng.seeded {
		randomdata.CustomRand(rand.New(rand.NewSource(0)))
		rng.seeded = true
	}
	for {
		name := randomdata.SillyName()
		// avoid duplicate names
		if _, exists := rng.names[name]; !exists {
			rng.names[name] = struct{}{}
			return name
		}
	}
}

// Reserve marks externally chosen name as taken
func (rng *RandomNameGenerator) Reserve(name string) {
	rng.mu.Lock()
	defer rng.mu.Unlock()

	if rng.names == nil {
		rng.names = make(map[string]struct{})
	}
	rng.names[name] = struct{}{}
}

func (rng *RandomNameGenerator) Release(name string) {
	rng.mu.Lock()
	defer rng.mu.Unlock()
	delete(rng.names, name)
}
