package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"github.com/hiyorigaoka/roomkeeper/discord"
)

// fakeProvider is an in-memory Provider. It mimics the cache semantics of the
// live session closely enough for the state machine: channel resolution,
// voice occupancy, role checks and the wanted-channel message stream.
type fakeProvider struct {
	mu sync.Mutex

	nextID   uint64
	guildID  snowflake.ID
	guilds   map[snowflake.ID]discord.Guild
	channels map[snowflake.ID]discord.Channel
	roles    map[snowflake.ID]discord.Role
	members  map[snowflake.ID]discord.Member
	voice    map[snowflake.ID]discord.VoiceState
	messages map[snowflake.ID][]discord.Message
	subs     map[snowflake.ID][]func(discord.Message)

	eventChannels    map[snowflake.ID]snowflake.ID
	eventSubscribers map[snowflake.ID][]discord.Member

	createdOverwrites map[snowflake.ID][]discord.PermissionOverwrite
	deleted           []snowflake.ID
	grants            map[snowflake.ID][]snowflake.ID
	revokes           map[snowflake.ID][]snowflake.ID
	replacedOverwrite [][]discord.PermissionOverwrite
	moves             []snowflake.ID
	cancelled         int

	failMove        bool
	failVoiceCreate bool
}

var _ discord.Provider = (*fakeProvider)(nil)

func newFakeProvider(guildID snowflake.ID) *fakeProvider {
	f := &fakeProvider{
		nextID:            1000,
		guildID:           guildID,
		guilds:            map[snowflake.ID]discord.Guild{guildID: {ID: guildID}},
		channels:          make(map[snowflake.ID]discord.Channel),
		roles:             make(map[snowflake.ID]discord.Role),
		members:           make(map[snowflake.ID]discord.Member),
		voice:             make(map[snowflake.ID]discord.VoiceState),
		messages:          make(map[snowflake.ID][]discord.Message),
		subs:              make(map[snowflake.ID][]func(discord.Message)),
		eventChannels:     make(map[snowflake.ID]snowflake.ID),
		eventSubscribers:  make(map[snowflake.ID][]discord.Member),
		createdOverwrites: make(map[snowflake.ID][]discord.PermissionOverwrite),
		grants:            make(map[snowflake.ID][]snowflake.ID),
		revokes:           make(map[snowflake.ID][]snowflake.ID),
	}
	return f
}

func (f *fakeProvider) alloc() snowflake.ID {
	f.nextID++
	return snowflake.ID(f.nextID)
}

// test seeding helpers

func (f *fakeProvider) addChannel(ch discord.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch.GuildID = f.guildID
	f.channels[ch.ID] = ch
}

func (f *fakeProvider) addRole(id snowflake.ID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[id] = discord.Role{ID: id, Name: name}
}

func (f *fakeProvider) addMember(userID snowflake.ID, nick string, roleIDs ...snowflake.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[userID] = discord.Member{
		User:    discord.User{ID: userID, Username: nick},
		Nick:    nick,
		RoleIDs: roleIDs,
	}
}

func (f *fakeProvider) connect(userID, channelID snowflake.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channelID == 0 {
		delete(f.voice, userID)
		return
	}
	f.voice[userID] = discord.VoiceState{GuildID: f.guildID, ChannelID: channelID, UserID: userID}
}

func (f *fakeProvider) addMessage(msg discord.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.ChannelID] = append(f.messages[msg.ChannelID], msg)
}

func (f *fakeProvider) publish(msg discord.Message) {
	f.addMessage(msg)
	f.mu.Lock()
	fns := make([]func(discord.Message), 0, len(f.subs[msg.ChannelID]))
	fns = append(fns, f.subs[msg.ChannelID]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// ChannelProvider

func (f *fakeProvider) CreateCategory(ctx context.Context, guildID snowflake.ID, name string, position int) (snowflake.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.alloc()
	f.channels[id] = discord.Channel{ID: id, GuildID: guildID, Type: discord.ChannelTypeGuildCategory, Name: name, Position: position}
	return id, nil
}

func (f *fakeProvider) CreateTextChannel(ctx context.Context, guildID snowflake.ID, name string, parentID snowflake.ID, overwrites []discord.PermissionOverwrite) (snowflake.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.alloc()
	f.channels[id] = discord.Channel{ID: id, GuildID: guildID, Type: discord.ChannelTypeGuildText, Name: name, ParentID: parentID}
	f.createdOverwrites[id] = overwrites
	return id, nil
}

func (f *fakeProvider) CreateVoiceChannel(ctx context.Context, guildID snowflake.ID, name string, parentID snowflake.ID, bitrate int) (snowflake.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failVoiceCreate {
		return 0, fmt.Errorf("voice channel creation refused")
	}
	id := f.alloc()
	f.channels[id] = discord.Channel{ID: id, GuildID: guildID, Type: discord.ChannelTypeGuildVoice, Name: name, ParentID: parentID}
	return id, nil
}

func (f *fakeProvider) DeleteChannel(ctx context.Context, channelID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, channelID)
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeProvider) RenameChannel(ctx context.Context, channelID snowflake.ID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := f.channels[channelID]
	ch.Name = name
	f.channels[channelID] = ch
	return nil
}

func (f *fakeProvider) Channel(channelID snowflake.ID) (discord.Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	return ch, ok
}

func (f *fakeProvider) GrantView(ctx context.Context, channelID, memberID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[channelID] = append(f.grants[channelID], memberID)
	return nil
}

func (f *fakeProvider) RevokeView(ctx context.Context, channelID, memberID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokes[channelID] = append(f.revokes[channelID], memberID)
	return nil
}

func (f *fakeProvider) ReplacePermissionOverwrites(ctx context.Context, channelID snowflake.ID, overwrites []discord.PermissionOverwrite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replacedOverwrite = append(f.replacedOverwrite, overwrites)
	return nil
}

// PresenceProvider

func (f *fakeProvider) Occupants(channelID snowflake.ID) []discord.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	occupants := make([]discord.Member, 0)
	for userID, vs := range f.voice {
		if vs.ChannelID != channelID {
			continue
		}
		if m, ok := f.members[userID]; ok {
			occupants = append(occupants, m)
		}
	}
	return occupants
}

func (f *fakeProvider) VoiceStateOf(guildID, userID snowflake.ID) (discord.VoiceState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs, ok := f.voice[userID]
	return vs, ok
}

func (f *fakeProvider) MoveMember(ctx context.Context, guildID, userID, channelID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMove {
		return fmt.Errorf("move refused")
	}
	f.voice[userID] = discord.VoiceState{GuildID: guildID, ChannelID: channelID, UserID: userID}
	f.moves = append(f.moves, userID)
	return nil
}

// MessageProvider

func (f *fakeProvider) RecentMessages(channelID snowflake.ID) []discord.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discord.Message(nil), f.messages[channelID]...)
}

func (f *fakeProvider) SubscribeMessages(channelID snowflake.ID, fn func(discord.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[channelID] = append(f.subs[channelID], fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancelled++
	}
}

// RoleProvider

func (f *fakeProvider) Role(guildID, roleID snowflake.ID) (discord.Role, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[roleID]
	return r, ok
}

func (f *fakeProvider) MemberHasRole(guildID, userID, roleID snowflake.ID) bool {
	if roleID == guildID {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return false
	}
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

func (f *fakeProvider) EveryoneRoleID(guildID snowflake.ID) snowflake.ID {
	return guildID
}

// GuildProvider

func (f *fakeProvider) GuildExists(guildID snowflake.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.guilds[guildID]
	return ok
}

func (f *fakeProvider) Guild(guildID snowflake.ID) (discord.Guild, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.guilds[guildID]
	return g, ok
}

func (f *fakeProvider) GuildMember(guildID, userID snowflake.ID) (discord.Member, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	return m, ok
}

// EventProvider

func (f *fakeProvider) SetEventChannel(ctx context.Context, guildID, eventID, channelID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventChannels[eventID] = channelID
	return nil
}

func (f *fakeProvider) EventSubscribers(ctx context.Context, guildID, eventID snowflake.ID) ([]discord.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discord.Member(nil), f.eventSubscribers[eventID]...), nil
}
