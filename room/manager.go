package room

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"github.com/hiyorigaoka/roomkeeper/config"
	"github.com/hiyorigaoka/roomkeeper/discord"
	"github.com/hiyorigaoka/roomkeeper/game"
	"github.com/hiyorigaoka/roomkeeper/globals"
	"github.com/hiyorigaoka/roomkeeper/persistence"
	"github.com/hiyorigaoka/roomkeeper/types"
)

// Manager owns the live room registry and reacts to voice-state transitions:
// a join into the lobby channel provisions a room, a move between channels
// joins/leaves rooms, and a leave that empties a room triggers the guarded
// deletion. All deletion goes through DeleteIfEmpty; there is no second
// deletion path.
type Manager struct {
	p         discord.Provider
	games     *game.Registry
	persister persistence.Persister
	settings  Settings

	lobbyChannelID snowflake.ID

	mu    sync.RWMutex
	rooms map[snowflake.ID]*Room
}

func NewManager(p discord.Provider, games *game.Registry, persister persistence.Persister, cfg *config.Config) (*Manager, error) {
	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	lobbyID, err := snowflake.Parse(cfg.DiscordConfig.LobbyChannelID)
	if err != nil {
		return nil, fmt.Errorf("invalid lobby_channel_id: %w", err)
	}
	return &Manager{
		p:              p,
		games:          games,
		persister:      persister,
		settings:       settings,
		lobbyChannelID: lobbyID,
		rooms:          make(map[snowflake.ID]*Room),
	}, nil
}

func (m *Manager) Settings() Settings { return m.settings }

func (m *Manager) Get(roomID snowflake.ID) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

// GetByEvent finds the room bound to a scheduled event.
func (m *Manager) GetByEvent(eventID snowflake.ID) (*Room, bool) {
	if eventID == 0 {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rooms {
		if r.EventID() == eventID {
			return r, true
		}
	}
	return nil, false
}

// Rooms returns the tracked rooms ordered by id.
func (m *Manager) Rooms() []*Room {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID() < rooms[j].ID() })
	return rooms
}

func (m *Manager) put(r *Room) {
	m.mu.Lock()
	m.rooms[r.ID()] = r
	liveRooms.Set(float64(len(m.rooms)))
	m.mu.Unlock()
}

func (m *Manager) remove(roomID snowflake.ID) {
	m.mu.Lock()
	delete(m.rooms, roomID)
	liveRooms.Set(float64(len(m.rooms)))
	m.mu.Unlock()
}

// HandleVoiceStateUpdate is the gateway entry point. The order matters: the
// lobby join provisions the room first, then the generic move handling runs
// for every transition, so a member arriving from another room still triggers
// that room's leave and its guarded deletion.
func (m *Manager) HandleVoiceStateUpdate(old, new discord.VoiceState) {
	ctx := context.Background()
	if new.ChannelID == m.lobbyChannelID {
		if err := m.CreateRoom(ctx, new); err != nil {
			globals.AppLogger.Error("could not create room", "user_id", new.UserID, "error", err)
		}
	}
	m.HandleMemberMove(ctx, old, new)
}

// CreateRoom provisions a room for the member behind the lobby-join voice
// state, persists its snapshot and pulls the owner into the new primary voice
// channel. A creation failure leaves any already provisioned channels behind;
// they are logged for manual cleanup, never rolled back.
func (m *Manager) CreateRoom(ctx context.Context, vs discord.VoiceState) error {
	hostName := ""
	if member, ok := m.p.GuildMember(vs.GuildID, vs.UserID); ok {
		hostName = member.DisplayName()
	}

	// place the category where the lobby (or its parent category) sits
	position := -1
	if lobby, ok := m.p.Channel(vs.ChannelID); ok {
		position = lobby.Position
		if lobby.ParentID != 0 {
			if parent, ok := m.p.Channel(lobby.ParentID); ok {
				position = parent.Position
			}
		}
	}

	r := New(m.p, m.games, m.settings, vs.GuildID, Options{
		HostName: hostName,
		OwnerID:  vs.UserID,
	})
	roomID, err := r.Create(ctx, position)
	if err != nil {
		if orphans := r.ChannelIDs(); len(orphans) > 0 {
			globals.AppLogger.Error("room creation failed, channels left behind",
				"guild_id", vs.GuildID, "channel_ids", orphans)
		}
		return err
	}
	m.put(r)
	roomsCreated.Inc()

	if err := m.persistRoom(r); err != nil {
		globals.AppLogger.Error("could not persist room", "room_id", roomID, "error", err)
	}

	r.MoveMember(ctx, vs, 0)
	globals.AppLogger.Info("room created", "room_id", roomID, "host", r.HostName(), "owner_id", vs.UserID)
	return nil
}

// HandleMemberMove translates a voice transition into room joins and leaves.
// Room identity is the parent category of the voice channel, so a hop between
// two voice channels of the same room is a no-op.
func (m *Manager) HandleMemberMove(ctx context.Context, old, new discord.VoiceState) {
	oldRoomID := m.roomIDFor(old.ChannelID)
	newRoomID := m.roomIDFor(new.ChannelID)
	if oldRoomID == newRoomID {
		return
	}

	userID := new.UserID
	if userID == 0 {
		userID = old.UserID
	}

	if newRoomID != 0 {
		if r, ok := m.Get(newRoomID); ok {
			if err := r.Join(ctx, userID); err != nil {
				globals.AppLogger.Error("could not join room", "room_id", newRoomID, "user_id", userID, "error", err)
			}
		}
	}
	if oldRoomID != 0 {
		if r, ok := m.Get(oldRoomID); ok {
			if err := r.Leave(ctx, userID); err != nil {
				globals.AppLogger.Error("could not leave room", "room_id", oldRoomID, "user_id", userID, "error", err)
			}
			if _, err := m.DeleteIfEmpty(ctx, r); err != nil {
				globals.AppLogger.Error("could not delete room", "room_id", oldRoomID, "error", err)
			}
		}
	}
}

// roomIDFor resolves a voice channel to the room it belongs to via its parent
// category. Zero in, zero out.
func (m *Manager) roomIDFor(channelID snowflake.ID) snowflake.ID {
	if channelID == 0 {
		return 0
	}
	ch, ok := m.p.Channel(channelID)
	if !ok || ch.ParentID == 0 {
		return 0
	}
	if _, ok := m.Get(ch.ParentID); !ok {
		return 0
	}
	return ch.ParentID
}

// DeleteIfEmpty runs the guarded deletion and, only when the room actually
// went away, drops it from the registry and the store. A refused deletion
// (reserved, still occupied) changes nothing anywhere.
func (m *Manager) DeleteIfEmpty(ctx context.Context, r *Room) (bool, error) {
	deleted, err := r.Delete(ctx)
	if err != nil || !deleted {
		return false, err
	}
	m.remove(r.ID())
	if err := m.persister.DeleteRoom(r.ID()); err != nil {
		globals.AppLogger.Error("could not remove room snapshot", "room_id", r.ID(), "error", err)
	}
	roomsDeleted.Inc()
	globals.AppLogger.Info("room deleted", "room_id", r.ID())
	return true, nil
}

// persistRoom stores the current snapshot of the room.
func (m *Manager) persistRoom(r *Room) error {
	snapshot, err := r.Snapshot()
	if err != nil {
		return err
	}
	return m.persister.StoreRoom(snapshot)
}

// RecoverRooms rebuilds the registry from persisted snapshots after a
// restart. Best effort per snapshot: one bad snapshot (unknown version,
// vanished guild or category) is logged, purged from the store and skipped,
// never aborting the sweep. Returns how many rooms were recovered and how
// many snapshots were discarded.
func (m *Manager) RecoverRooms(ctx context.Context) (recovered, discarded int) {
	snapshots, err := m.persister.GetRooms()
	if err != nil {
		globals.AppLogger.Error("could not load room snapshots", "error", err)
		return 0, 0
	}

	for _, snapshot := range snapshots {
		if err := m.recoverRoom(snapshot); err != nil {
			globals.AppLogger.Warn("discarding room snapshot", "room_id", snapshot.ID, "reason", err)
			if err := m.persister.DeleteRoom(snapshot.ID); err != nil {
				globals.AppLogger.Error("could not purge stale snapshot", "room_id", snapshot.ID, "error", err)
			}
			roomRecoveryFailures.Inc()
			discarded++
			continue
		}
		roomsRecovered.Inc()
		recovered++
	}

	globals.AppLogger.Info("room recovery finished", "recovered", recovered, "discarded", discarded)
	return recovered, discarded
}

func (m *Manager) recoverRoom(snapshot *types.RoomSnapshot) error {
	if snapshot.Version != types.SnapshotVersion {
		return fmt.Errorf("unknown snapshot version %d", snapshot.Version)
	}
	if !m.p.GuildExists(snapshot.GuildID) {
		return fmt.Errorf("guild %s is gone", snapshot.GuildID)
	}
	if _, ok := m.p.Channel(snapshot.Channels.CategoryID); !ok {
		return fmt.Errorf("category %s is gone", snapshot.Channels.CategoryID)
	}
	r, err := FromSnapshot(m.p, m.games, m.settings, snapshot)
	if err != nil {
		return err
	}
	m.put(r)
	return nil
}
