package persistence

import (
	"encoding/json"
	"strings"

	"github.com/disgoorg/snowflake/v2"
	"github.com/tidwall/buntdb"

	"github.com/hiyorigaoka/roomkeeper/config"
	"github.com/hiyorigaoka/roomkeeper/types"
)

const (
	roomKeyPrefix = "room:"
	gameKeyPrefix = "game:"
)

type BuntDBPersist struct {
	db *buntdb.DB
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	fileName := cfg.PersistenceConfig.DSN
	if fileName == "" {
		fileName = ":memory:"
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		return nil, err
	}
	return &BuntDBPersist{db: db}, nil
}

func (p *BuntDBPersist) set(key string, v interface{}) error {
	ba, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(ba), nil)
		return err
	})
}

func (p *BuntDBPersist) get(key string, v interface{}) error {
	return p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		if err == buntdb.ErrNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), v)
	})
}

func (p *BuntDBPersist) has(key string) (bool, error) {
	found := false
	err := p.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (p *BuntDBPersist) delete(key string) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil // idempotent
		}
		return err
	})
}

func (p *BuntDBPersist) StoreRoom(snapshot *types.RoomSnapshot) error {
	return p.set(roomKeyPrefix+snapshot.ID.String(), snapshot)
}

func (p *BuntDBPersist) GetRoom(id snowflake.ID) (*types.RoomSnapshot, error) {
	snapshot := &types.RoomSnapshot{}
	if err := p.get(roomKeyPrefix+id.String(), snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (p *BuntDBPersist) HasRoom(id snowflake.ID) (bool, error) {
	return p.has(roomKeyPrefix + id.String())
}

func (p *BuntDBPersist) DeleteRoom(id snowflake.ID) error {
	return p.delete(roomKeyPrefix + id.String())
}

func (p *BuntDBPersist) GetRooms() ([]*types.RoomSnapshot, error) {
	snapshots := make([]*types.RoomSnapshot, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(roomKeyPrefix+"*", func(key, val string) bool {
			if !strings.HasPrefix(key, roomKeyPrefix) {
				return true
			}
			snapshot := &types.RoomSnapshot{}
			if err := json.Unmarshal([]byte(val), snapshot); err == nil {
				snapshots = append(snapshots, snapshot)
			}
			return true
		})
	})
	return snapshots, err
}

func (p *BuntDBPersist) GetRoomsByGuild(guildID snowflake.ID) ([]*types.RoomSnapshot, error) {
	all, err := p.GetRooms()
	if err != nil {
		return nil, err
	}
	snapshots := make([]*types.RoomSnapshot, 0, len(all))
	for _, snapshot := range all {
		if snapshot.GuildID == guildID {
			snapshots = append(snapshots, snapshot)
		}
	}
	return snapshots, nil
}

func (p *BuntDBPersist) StoreGame(game *types.Game) error {
	return p.set(gameKeyPrefix+game.ID.String(), game)
}

func (p *BuntDBPersist) GetGame(id snowflake.ID) (*types.Game, error) {
	game := &types.Game{}
	if err := p.get(gameKeyPrefix+id.String(), game); err != nil {
		return nil, err
	}
	return game, nil
}

func (p *BuntDBPersist) HasGame(id snowflake.ID) (bool, error) {
	return p.has(gameKeyPrefix + id.String())
}

func (p *BuntDBPersist) DeleteGame(id snowflake.ID) error {
	return p.delete(gameKeyPrefix + id.String())
}

func (p *BuntDBPersist) GetGames() ([]*types.Game, error) {
	games := make([]*types.Game, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(gameKeyPrefix+"*", func(key, val string) bool {
			game := &types.Game{}
			if err := json.Unmarshal([]byte(val), game); err == nil {
				games = append(games, game)
			}
			return true
		})
	})
	return games, err
}

func (p *BuntDBPersist) Maintain() error {
	err := p.db.Shrink()
	if err == buntdb.ErrDatabaseClosed {
		return nil
	}
	return err
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
