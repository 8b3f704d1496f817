package core

import "time"

type OrderParams struct {
	Port     int
	Storage  string
	Lock     string
	Effects  string
	Monitor  bool
	Migrate  bool
	Instance string
}

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	LockLocal = "local"
	LockRedis = "redis"

	EffectsLocal    = "local"
	EffectsRabbitMQ = "rabbitmq"
)

// WaitTime bounds request handling and graceful shutdown, in seconds.
const WaitTime = 10

const RetryAfter = 1 * time.Second

// Validation rules for new orders.
const (
	MaxCustomerNameLen = 100
	MaxNotesLen        = 500
	MaxAddressLen      = 300
	MinAddressLen      = 5

	MinItems        = 1
	MaxItems        = 50
	MinItemQuantity = 1
	MaxItemQuantity = 100
	MaxItemNameLen  = 100

	MaxCommissionPercent = 100
)
