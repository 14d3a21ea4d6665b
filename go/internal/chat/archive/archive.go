// Package archive persists relayed messages asynchronously. The room's
// in-memory history stays authoritative for the life of the room; the
// archive is a best-effort durable copy written off the broadcast path so
// storage latency never couples to delivery latency.
package archive

import (
	"context"

	"github.com/astromitra/consultroom/go/internal/models"
)

// Store is the persistence backend for archived messages. Both
// PostgresStore and RedisStore implement this interface.
type Store interface {
	SaveMessage(ctx context.Context, msg models.Message) error
	Ping(ctx context.Context) error
	Close()
	Driver() string
}
