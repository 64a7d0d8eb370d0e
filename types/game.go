package types

import "github.com/disgoorg/snowflake/v2"

// Game is a role-scoped bundle of labeled string lists (maps, modes, ...)
// used for randomized selection inside a room. The id is the Discord role id;
// the zero id is reserved for the built-in default game.
type Game struct {
	ID   snowflake.ID      `json:"id" gorm:"primaryKey"`
	Name string            `json:"name"`
	Data JSONStringListMap `json:"data"`
}
