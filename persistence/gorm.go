package persistence

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hiyorigaoka/roomkeeper/config"
	"github.com/hiyorigaoka/roomkeeper/types"
)

var _ driver.Valuer = &datatypes.JSON{}

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	p := GormPersist{db: db}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("missing persistence dsn")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	err = db.Migrator().AutoMigrate(&types.RoomSnapshot{}, &types.Game{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) StoreRoom(snapshot *types.RoomSnapshot) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(snapshot).Error
}

func (p *GormPersist) GetRoom(id snowflake.ID) (*types.RoomSnapshot, error) {
	snapshot := &types.RoomSnapshot{}
	err := p.db.First(snapshot, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return snapshot, nil
}

func (p *GormPersist) HasRoom(id snowflake.ID) (bool, error) {
	var count int64
	err := p.db.Model(&types.RoomSnapshot{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (p *GormPersist) DeleteRoom(id snowflake.ID) error {
	return p.db.Delete(&types.RoomSnapshot{}, "id = ?", id).Error
}

func (p *GormPersist) GetRooms() ([]*types.RoomSnapshot, error) {
	snapshots := make([]*types.RoomSnapshot, 0)
	err := p.db.Find(&snapshots).Error
	return snapshots, err
}

func (p *GormPersist) GetRoomsByGuild(guildID snowflake.ID) ([]*types.RoomSnapshot, error) {
	snapshots := make([]*types.RoomSnapshot, 0)
	err := p.db.Where("guild_id = ?", guildID).Find(&snapshots).Error
	return snapshots, err
}

func (p *GormPersist) StoreGame(game *types.Game) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(game).Error
}

func (p *GormPersist) GetGame(id snowflake.ID) (*types.Game, error) {
	game := &types.Game{}
	err := p.db.First(game, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return game, nil
}

func (p *GormPersist) HasGame(id snowflake.ID) (bool, error) {
	var count int64
	err := p.db.Model(&types.Game{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (p *GormPersist) DeleteGame(id snowflake.ID) error {
	return p.db.Delete(&types.Game{}, "id = ?", id).Error
}

func (p *GormPersist) GetGames() ([]*types.Game, error) {
	games := make([]*types.Game, 0)
	err := p.db.Find(&games).Error
	return games, err
}

func (p *GormPersist) Maintain() error {
	return nil
}

func (p *GormPersist) Close() error {
	return nil
}
