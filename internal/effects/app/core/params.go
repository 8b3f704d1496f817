package core

import "time"

type WorkerParams struct {
	Prefetch    int
	Concurrency int
}

const (
	DefaultPrefetch    = 10
	DefaultConcurrency = 8

	OutboxInterval = 5 * time.Second
	LocalBuffer    = 256
)
