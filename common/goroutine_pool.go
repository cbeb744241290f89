package common

import (
	"fmt"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"
)

type PoolConfig struct {
	Name       string
	MaxWorkers int
}

// NewPool creates a goroutine pool that logs, instead of crashing on, panics in submitted tasks.
// Workers never expire so long-running loops keep their goroutine.
func NewPool(config PoolConfig) (*ants.Pool, error) {
	pool, err := ants.NewPool(config.MaxWorkers,
		ants.WithDisablePurge(true),
		ants.WithPanicHandler(func(p interface{}) {
			log.Errorf("%s pool task panicked: %v", config.Name, p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s goroutine pool: %w", config.Name, err)
	}

	return pool, nil
}
