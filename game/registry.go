package game

import (
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"

	"github.com/hiyorigaoka/roomkeeper/discord"
	"github.com/hiyorigaoka/roomkeeper/persistence"
	"github.com/hiyorigaoka/roomkeeper/types"
)

// defaultGame is the immutable "no game" sentinel. It is returned by pointer
// so callers can compare identities, and it is never persisted.
var defaultGame = &types.Game{
	ID:   0,
	Name: "Free",
	Data: types.JSONStringListMap{},
}

// Registry resolves role ids to games, reading through to the persister.
type Registry struct {
	persister persistence.Persister
}

func NewRegistry(persister persistence.Persister) *Registry {
	return &Registry{persister: persister}
}

// DefaultGame returns the shared sentinel game.
func (r *Registry) DefaultGame() *types.Game {
	return defaultGame
}

// GetGame returns the game registered for the role id, the default game for
// the zero id, or nil when no game exists. nil is a signal, not a failure:
// callers decide whether to create one.
func (r *Registry) GetGame(id snowflake.ID) (*types.Game, error) {
	if id == 0 {
		return defaultGame, nil
	}
	game, err := r.persister.GetGame(id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return game, nil
}

// CreateGame registers a new game named after the role and persists it.
func (r *Registry) CreateGame(role discord.Role) (*types.Game, error) {
	if role.ID == 0 {
		return nil, fmt.Errorf("cannot create a game for the everyone role")
	}
	game := &types.Game{
		ID:   role.ID,
		Name: role.Name,
		Data: types.JSONStringListMap{},
	}
	if err := r.persister.StoreGame(game); err != nil {
		return nil, err
	}
	return game, nil
}

// UpdateGameData sets one labeled list of the game. A nil or empty list
// removes the key; there is no separate delete operation. Updating a game
// that does not exist is a no-op.
func (r *Registry) UpdateGameData(id snowflake.ID, key string, values []string) error {
	game, err := r.persister.GetGame(id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if game.Data == nil {
		game.Data = types.JSONStringListMap{}
	}
	if len(values) == 0 {
		delete(game.Data, key)
	} else {
		game.Data[key] = values
	}
	return r.persister.StoreGame(game)
}

// DeleteGame removes the game; deleting an absent game is not an error.
func (r *Registry) DeleteGame(id snowflake.ID) error {
	err := r.persister.DeleteGame(id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	return err
}
