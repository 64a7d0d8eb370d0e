package persistence

import (
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"

	"github.com/hiyorigaoka/roomkeeper/config"
	"github.com/hiyorigaoka/roomkeeper/types"
)

// ErrNotFound is returned by the Get family when a key has no entry. Callers
// must distinguish it from other failures: an absent game is a signal to
// create one, an absent room snapshot is an ordinary condition after cleanup.
var ErrNotFound = errors.New("persistence: not found")

// Persister stores room snapshots and games in two independent namespaces.
// Implementations must make StoreRoom/StoreGame upserts.
type Persister interface {
	StoreRoom(*types.RoomSnapshot) error
	GetRoom(snowflake.ID) (*types.RoomSnapshot, error)
	HasRoom(snowflake.ID) (bool, error)
	DeleteRoom(snowflake.ID) error
	GetRooms() ([]*types.RoomSnapshot, error)
	GetRoomsByGuild(snowflake.ID) ([]*types.RoomSnapshot, error)

	StoreGame(*types.Game) error
	GetGame(snowflake.ID) (*types.Game, error)
	HasGame(snowflake.ID) (bool, error)
	DeleteGame(snowflake.ID) error
	GetGames() ([]*types.Game, error)

	// Maintain performs backend housekeeping (f.e. buntdb file shrink) and is
	// safe to call on a schedule.
	Maintain() error
	Close() error
}

// NewPersister creates the persister selected by the configuration.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "", "buntdb":
		return NewBuntPersister(cfg)
	case "sqlite", "postgres":
		return NewGormPersister(cfg)
	}
	return nil, fmt.Errorf("invalid persistence type %q", cfg.PersistenceConfig.Type)
}
