package room

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/antonmedv/expr/vm"
	"github.com/disgoorg/snowflake/v2"
	"github.com/folkengine/goname"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/hiyorigaoka/roomkeeper/config"
	"github.com/hiyorigaoka/roomkeeper/discord"
	"github.com/hiyorigaoka/roomkeeper/filter"
	"github.com/hiyorigaoka/roomkeeper/game"
	"github.com/hiyorigaoka/roomkeeper/globals"
	"github.com/hiyorigaoka/roomkeeper/types"
)

const (
	textChannelName       = "room-chat"
	additionalChannelName = "VC [%d]"
	fallbackBitrate       = 96000
)

// Settings are the room-relevant parts of the configuration, parsed once.
type Settings struct {
	WantedChannelID snowflake.ID
	IgnoreRoleIDs   map[snowflake.ID]struct{}
	Staleness       time.Duration
	LFGFilter       *vm.Program
}

// SettingsFromConfig parses ids and compiles the optional LFG filter.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	settings := Settings{
		IgnoreRoleIDs: make(map[snowflake.ID]struct{}),
		Staleness:     cfg.LFGConfig.Staleness,
	}
	if settings.Staleness <= 0 {
		settings.Staleness = 6 * time.Hour
	}
	if cfg.DiscordConfig.WantedChannelID != "" {
		id, err := snowflake.Parse(cfg.DiscordConfig.WantedChannelID)
		if err != nil {
			return settings, fmt.Errorf("invalid wanted_channel_id: %w", err)
		}
		settings.WantedChannelID = id
	}
	for _, raw := range cfg.DiscordConfig.IgnoreRoleIDs {
		id, err := snowflake.Parse(raw)
		if err != nil {
			return settings, fmt.Errorf("invalid ignore_role_ids entry %q: %w", raw, err)
		}
		settings.IgnoreRoleIDs[id] = struct{}{}
	}
	if cfg.LFGConfig.Filter != "" {
		prog, err := filter.Compile(cfg.LFGConfig.Filter)
		if err != nil {
			return settings, fmt.Errorf("invalid lfg filter: %w", err)
		}
		settings.LFGFilter = prog
	}
	return settings, nil
}

// Options configure a new, not yet created room.
type Options struct {
	HostName string
	OwnerID  snowflake.ID
	Reserved bool
	EventID  snowflake.ID
}

// Room is one provisioned channel group: category + private text channel +
// voice channel + a scalable tail of additional voice channels. Membership is
// never stored; it is always read live from the presence provider, because
// voice occupancy is platform-owned truth that must not drift.
//
// Rooms are driven from the single gateway dispatch context and hold no lock
// of their own; the manager owns their liveness.
type Room struct {
	p        discord.Provider
	games    *game.Registry
	settings Settings

	guildID   snowflake.ID
	hostName  string
	ownerID   snowflake.ID
	game      *types.Game
	reserved  bool
	eventID   snowflake.ID
	createdAt time.Time

	categoryID                snowflake.ID
	textChannelID             snowflake.ID
	voiceChannelID            snowflake.ID
	additionalVoiceChannelIDs []snowflake.ID

	stopCollector     func()
	lastOverwriteHash uint64
}

func New(p discord.Provider, games *game.Registry, settings Settings, guildID snowflake.ID, opts Options) *Room {
	hostName := opts.HostName
	if hostName == "" {
		hostName = goname.New(goname.FantasyMap).FirstLast()
	}
	return &Room{
		p:         p,
		games:     games,
		settings:  settings,
		guildID:   guildID,
		hostName:  hostName,
		ownerID:   opts.OwnerID,
		game:      games.DefaultGame(),
		reserved:  opts.Reserved,
		eventID:   opts.EventID,
		createdAt: time.Now().UTC(),
	}
}

// FromSnapshot reconstructs a room from its persisted state and re-arms the
// game collector. A game id that no longer resolves falls back silently to
// the default game.
func FromSnapshot(p discord.Provider, games *game.Registry, settings Settings, snapshot *types.RoomSnapshot) (*Room, error) {
	r := New(p, games, settings, snapshot.GuildID, Options{
		HostName: snapshot.HostName,
		OwnerID:  snapshot.OwnerID,
		Reserved: snapshot.Reserved,
		EventID:  snapshot.EventID,
	})
	r.createdAt = snapshot.CreatedAt
	r.categoryID = snapshot.Channels.CategoryID
	r.textChannelID = snapshot.Channels.TextChannelID
	r.voiceChannelID = snapshot.Channels.VoiceChannelID
	r.additionalVoiceChannelIDs = append([]snowflake.ID(nil), snapshot.Channels.AdditionalVoiceChannelIDs...)

	g, err := games.GetGame(snapshot.GameID)
	if err != nil {
		return nil, err
	}
	if g != nil {
		r.game = g
	}

	r.setupGameCollector()
	return r, nil
}

// Snapshot returns the durable projection of the room. It fails on a room
// whose Create has not completed; such a room has no identity to persist.
func (r *Room) Snapshot() (*types.RoomSnapshot, error) {
	if r.categoryID == 0 || r.textChannelID == 0 || r.voiceChannelID == 0 {
		return nil, fmt.Errorf("room channels are not fully initialized")
	}
	return &types.RoomSnapshot{
		ID:        r.categoryID,
		Version:   types.SnapshotVersion,
		GuildID:   r.guildID,
		HostName:  r.hostName,
		OwnerID:   r.ownerID,
		GameID:    r.game.ID,
		Reserved:  r.reserved,
		CreatedAt: r.createdAt,
		Channels: types.RoomChannels{
			CategoryID:                r.categoryID,
			TextChannelID:             r.textChannelID,
			VoiceChannelID:            r.voiceChannelID,
			AdditionalVoiceChannelIDs: append([]snowflake.ID(nil), r.additionalVoiceChannelIDs...),
		},
		EventID: r.eventID,
	}, nil
}

// ID is the category channel id; the category anchors the whole group.
func (r *Room) ID() snowflake.ID      { return r.categoryID }
func (r *Room) GuildID() snowflake.ID { return r.guildID }
func (r *Room) HostName() string      { return r.hostName }
func (r *Room) EventID() snowflake.ID { return r.eventID }
func (r *Room) Reserved() bool        { return r.reserved }
func (r *Room) SetReserved(v bool)    { r.reserved = v }
func (r *Room) Game() *types.Game     { return r.game }

func (r *Room) VoiceChannelID() snowflake.ID { return r.voiceChannelID }

// VoiceChannelIDs lists the primary voice channel followed by the additional
// ones; indexes into this slice are the user-visible channel numbers.
func (r *Room) VoiceChannelIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, 1+len(r.additionalVoiceChannelIDs))
	if r.voiceChannelID != 0 {
		ids = append(ids, r.voiceChannelID)
	}
	return append(ids, r.additionalVoiceChannelIDs...)
}

// ChannelIDs lists every channel the room owns, category first. Used for
// orphan reporting when creation fails halfway.
func (r *Room) ChannelIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, 3+len(r.additionalVoiceChannelIDs))
	for _, id := range []snowflake.ID{r.categoryID, r.textChannelID, r.voiceChannelID} {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	return append(ids, r.additionalVoiceChannelIDs...)
}

// Members is the live membership projection: the occupants of all the room's
// voice channels, bots excluded. Never cached.
func (r *Room) Members() []discord.Member {
	seen := make(map[snowflake.ID]struct{})
	members := make([]discord.Member, 0)
	for _, channelID := range r.VoiceChannelIDs() {
		for _, m := range r.p.Occupants(channelID) {
			if m.User.Bot {
				continue
			}
			if _, ok := seen[m.User.ID]; ok {
				continue
			}
			seen[m.User.ID] = struct{}{}
			members = append(members, m)
		}
	}
	return members
}

func (r *Room) HasMember(userID snowflake.ID) bool {
	for _, m := range r.Members() {
		if m.User.ID == userID {
			return true
		}
	}
	return false
}

// Create provisions the channel group: the category named after the host, the
// private text channel, then - after resolving the initial game from the
// owner's last LFG message, so the voice channel can carry the game name -
// the voice channel. A failed call leaves the already created channels behind
// for the caller to report; there is no rollback.
func (r *Room) Create(ctx context.Context, position int) (snowflake.ID, error) {
	bitrate := fallbackBitrate
	if guild, ok := r.p.Guild(r.guildID); ok {
		bitrate = guild.MaxBitrate()
	}

	categoryID, err := r.p.CreateCategory(ctx, r.guildID, r.hostName, position)
	if err != nil {
		return 0, fmt.Errorf("create category: %w", err)
	}
	r.categoryID = categoryID

	overwrites := []discord.PermissionOverwrite{{
		ID:   r.p.EveryoneRoleID(r.guildID),
		Type: discord.OverwriteTypeRole,
		Deny: discord.PermissionViewChannel,
	}}
	textChannelID, err := r.p.CreateTextChannel(ctx, r.guildID, textChannelName, categoryID, overwrites)
	if err != nil {
		return 0, fmt.Errorf("create text channel: %w", err)
	}
	r.textChannelID = textChannelID

	if r.ownerID != 0 {
		if owner, ok := r.p.GuildMember(r.guildID, r.ownerID); ok {
			r.determineInitialGame(ctx, owner)
		}
	}

	voiceChannelID, err := r.p.CreateVoiceChannel(ctx, r.guildID, r.game.Name, categoryID, bitrate)
	if err != nil {
		return 0, fmt.Errorf("create voice channel: %w", err)
	}
	r.voiceChannelID = voiceChannelID

	r.setupGameCollector()
	return r.categoryID, nil
}

// Delete tears the channel group down. It is a guarded transition: a reserved
// room or a room with live members refuses with (false, nil) and nothing
// happens. The membership check reads live state, never an event payload, so
// a stale leave notification cannot destroy an occupied room.
func (r *Room) Delete(ctx context.Context) (bool, error) {
	if r.reserved {
		return false, nil
	}
	if len(r.Members()) > 0 {
		return false, nil
	}

	if _, err := r.SetAdditionalVoiceChannels(ctx, 0); err != nil {
		return false, err
	}
	if r.voiceChannelID != 0 {
		if err := r.p.DeleteChannel(ctx, r.voiceChannelID); err != nil {
			return false, fmt.Errorf("delete voice channel: %w", err)
		}
		r.voiceChannelID = 0
	}
	if r.textChannelID != 0 {
		if err := r.p.DeleteChannel(ctx, r.textChannelID); err != nil {
			return false, fmt.Errorf("delete text channel: %w", err)
		}
		r.textChannelID = 0
	}
	if r.categoryID != 0 {
		if err := r.p.DeleteChannel(ctx, r.categoryID); err != nil {
			return false, fmt.Errorf("delete category: %w", err)
		}
	}

	if r.stopCollector != nil {
		r.stopCollector()
		r.stopCollector = nil
	}
	return true, nil
}

// Join grants the member visibility of the room's text channel. Voice
// presence itself is owned by the platform.
func (r *Room) Join(ctx context.Context, memberID snowflake.ID) error {
	if r.textChannelID == 0 {
		return nil
	}
	return r.p.GrantView(ctx, r.textChannelID, memberID)
}

// Leave revokes text-channel visibility, but only for event-backed rooms;
// ordinary rooms keep the overwrite until the room itself is deleted, so the
// chat stays readable to members who drop out and come back.
func (r *Room) Leave(ctx context.Context, memberID snowflake.ID) error {
	if r.eventID == 0 || r.textChannelID == 0 {
		return nil
	}
	return r.p.RevokeView(ctx, r.textChannelID, memberID)
}

// SetGame switches the room to the game registered for the role, creating
// the game on first use. The everyone role maps to the default game. Returns
// (nil, nil) when the role is unresolvable or on the ignore list: arbitrary
// administrative roles must not become games.
func (r *Room) SetGame(ctx context.Context, roleID snowflake.ID) (*types.Game, error) {
	if roleID == r.p.EveryoneRoleID(r.guildID) {
		roleID = r.games.DefaultGame().ID
	}
	if r.game.ID == roleID {
		return r.game, nil
	}

	g, err := r.games.GetGame(roleID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		role, ok := r.p.Role(r.guildID, roleID)
		if !ok {
			return nil, nil
		}
		if _, ignored := r.settings.IgnoreRoleIDs[roleID]; ignored {
			return nil, nil
		}
		g, err = r.games.CreateGame(role)
		if err != nil {
			return nil, err
		}
	}

	r.game = g
	if err := r.updateVoiceChannelName(ctx, g.Name); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *Room) updateVoiceChannelName(ctx context.Context, name string) error {
	if r.voiceChannelID == 0 {
		return nil
	}
	if ch, ok := r.p.Channel(r.voiceChannelID); ok && ch.Name == name {
		return nil
	}
	return r.p.RenameChannel(ctx, r.voiceChannelID, name)
}

// SetAdditionalVoiceChannels grows or shrinks the additional voice channel
// list to count. Channels are appended at the tail and removed from the tail
// backward, so the ids and position-derived numbers of untouched channels
// stay stable. Returns the resulting count.
func (r *Room) SetAdditionalVoiceChannels(ctx context.Context, count int) (int, error) {
	if count < 0 {
		count = 0
	}
	current := len(r.additionalVoiceChannelIDs)

	if count > current {
		if r.categoryID == 0 {
			return current, fmt.Errorf("category not set")
		}
		bitrate := fallbackBitrate
		if guild, ok := r.p.Guild(r.guildID); ok {
			bitrate = guild.MaxBitrate()
		}
		for i := current; i < count; i++ {
			name := fmt.Sprintf(additionalChannelName, i+1)
			channelID, err := r.p.CreateVoiceChannel(ctx, r.guildID, name, r.categoryID, bitrate)
			if err != nil {
				return len(r.additionalVoiceChannelIDs), err
			}
			r.additionalVoiceChannelIDs = append(r.additionalVoiceChannelIDs, channelID)
		}
	} else if count < current {
		toDelete := append([]snowflake.ID(nil), r.additionalVoiceChannelIDs[count:]...)
		r.additionalVoiceChannelIDs = r.additionalVoiceChannelIDs[:count]
		for i := len(toDelete) - 1; i >= 0; i-- {
			if err := r.p.DeleteChannel(ctx, toDelete[i]); err != nil {
				return len(r.additionalVoiceChannelIDs), err
			}
		}
	}

	return len(r.additionalVoiceChannelIDs), nil
}

// MoveMember moves the user behind the voice state into the room's voice
// channel with the given index (0 is the primary channel). Reports success;
// platform failures (member already disconnected etc.) degrade to false so
// that mass moves never abort on one member.
func (r *Room) MoveMember(ctx context.Context, vs discord.VoiceState, index int) bool {
	ids := r.VoiceChannelIDs()
	if index < 0 || index >= len(ids) {
		return false
	}
	target := ids[index]
	if vs.ChannelID == target {
		return true
	}
	if err := r.p.MoveMember(ctx, r.guildID, vs.UserID, target); err != nil {
		globals.AppLogger.Debug("member move failed", "user_id", vs.UserID, "target", target, "error", err)
		memberMovesFailed.Inc()
		return false
	}
	return true
}

// CallMembers gathers every live member into one voice channel. The moves are
// scattered and joined; individual failures are counted, never propagated.
func (r *Room) CallMembers(ctx context.Context, index int) (moved, failed int) {
	results := make(chan bool)
	count := 0
	for _, m := range r.Members() {
		vs, ok := r.p.VoiceStateOf(r.guildID, m.User.ID)
		if !ok {
			failed++
			continue
		}
		count++
		go func(vs discord.VoiceState) {
			results <- r.MoveMember(ctx, vs, index)
		}(vs)
	}
	for i := 0; i < count; i++ {
		if <-results {
			moved++
		} else {
			failed++
		}
	}
	return moved, failed
}

// SyncTextChannelPermissions recomputes the full overwrite set from live
// membership and replaces it wholesale. A full resync instead of an
// incremental diff: extra calls in exchange for never drifting after a
// missed join or leave. The platform call is skipped when the computed set
// hashes identically to the last applied one.
func (r *Room) SyncTextChannelPermissions(ctx context.Context) error {
	if r.textChannelID == 0 {
		return nil
	}
	members := r.Members()
	sort.Slice(members, func(i, j int) bool { return members[i].User.ID < members[j].User.ID })

	overwrites := make([]discord.PermissionOverwrite, 0, len(members)+1)
	overwrites = append(overwrites, discord.PermissionOverwrite{
		ID:   r.p.EveryoneRoleID(r.guildID),
		Type: discord.OverwriteTypeRole,
		Deny: discord.PermissionViewChannel,
	})
	for _, m := range members {
		overwrites = append(overwrites, discord.PermissionOverwrite{
			ID:    m.User.ID,
			Type:  discord.OverwriteTypeMember,
			Allow: discord.PermissionViewChannel,
		})
	}

	hash, err := hashstructure.Hash(overwrites, hashstructure.FormatV2, nil)
	if err == nil && hash == r.lastOverwriteHash {
		return nil
	}
	if err := r.p.ReplacePermissionOverwrites(ctx, r.textChannelID, overwrites); err != nil {
		return err
	}
	r.lastOverwriteHash = hash
	return nil
}

// determineInitialGame scans the wanted channel's cached history for the
// owner's most recent role-mentioning message and applies it as the room's
// game, provided the message is within the staleness window and the owner
// actually holds the mentioned role (no claiming games one hasn't opted
// into).
func (r *Room) determineInitialGame(ctx context.Context, owner discord.Member) {
	if r.settings.WantedChannelID == 0 {
		return
	}
	var last *discord.Message
	for _, msg := range r.p.RecentMessages(r.settings.WantedChannelID) {
		if msg.Author.ID != owner.User.ID || len(msg.MentionRoleIDs) == 0 {
			continue
		}
		m := msg
		last = &m
	}
	if last == nil {
		return
	}
	if time.Since(last.EffectiveTime()) > r.settings.Staleness {
		return
	}
	// the operator filter applies here the same as in the live collector
	if !filter.Run(r.settings.LFGFilter, r.filterEnv(*last)) {
		return
	}

	roleID := r.p.EveryoneRoleID(r.guildID)
	if len(last.MentionRoleIDs) > 0 {
		roleID = last.MentionRoleIDs[0]
	}
	if !r.p.MemberHasRole(r.guildID, owner.User.ID, roleID) {
		return
	}
	if _, err := r.SetGame(ctx, roleID); err != nil {
		globals.AppLogger.Error("could not apply initial game", "room_id", r.categoryID, "error", err)
	}
}
