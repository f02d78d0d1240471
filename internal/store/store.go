// Package store is the durable key-value surface the allocation engine persists through.
// Values are JSON documents serialized as strings; there are no multi-key transactions.
package store

import (
	"context"
	"fmt"
)

// Driver identifies a store backend.
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

// Store is a synchronous string key-value store. A Set is visible to the next Get from the
// same process once it returns.
type Store interface {
	// Get returns the value and true, or "" and false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ParseDriver validates a driver name.
func ParseDriver(s string) (Driver, error) {
	switch d := Driver(s); d {
	case DriverSQLite, DriverMemory, DriverRedis:
		return d, nil
	case "":
		return DriverSQLite, nil
	}
	return "", fmt.Errorf("unknown store driver %q", s)
}
