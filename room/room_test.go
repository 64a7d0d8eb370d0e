package room

import (
	"context"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiyorigaoka/roomkeeper/config"
	"github.com/hiyorigaoka/roomkeeper/discord"
	"github.com/hiyorigaoka/roomkeeper/filter"
	"github.com/hiyorigaoka/roomkeeper/game"
	"github.com/hiyorigaoka/roomkeeper/persistence"
)

const (
	testGuildID  snowflake.ID = 500
	testWantedID snowflake.ID = 600
)

func newTestRegistry(t *testing.T) (*game.Registry, persistence.Persister) {
	t.Helper()
	persister, err := persistence.NewBuntPersister(&config.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { persister.Close() })
	return game.NewRegistry(persister), persister
}

func defaultSettings() Settings {
	return Settings{
		IgnoreRoleIDs: make(map[snowflake.ID]struct{}),
		Staleness:     6 * time.Hour,
	}
}

func createTestRoom(t *testing.T, f *fakeProvider, games *game.Registry, settings Settings, opts Options) *Room {
	t.Helper()
	r := New(f, games, settings, testGuildID, opts)
	_, err := r.Create(context.Background(), -1)
	require.NoError(t, err)
	return r
}

func TestCreateProvisionsChannelGroup(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)

	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "alice"})

	category, ok := f.Channel(r.ID())
	require.True(t, ok)
	assert.Equal(t, discord.ChannelTypeGuildCategory, category.Type)
	assert.Equal(t, "alice", category.Name)

	text, ok := f.Channel(r.textChannelID)
	require.True(t, ok)
	assert.Equal(t, r.ID(), text.ParentID)
	overwrites := f.createdOverwrites[text.ID]
	require.Len(t, overwrites, 1)
	assert.Equal(t, testGuildID, overwrites[0].ID)
	assert.Equal(t, discord.OverwriteTypeRole, overwrites[0].Type)
	assert.Equal(t, discord.PermissionViewChannel, overwrites[0].Deny)

	voice, ok := f.Channel(r.VoiceChannelID())
	require.True(t, ok)
	assert.Equal(t, r.ID(), voice.ParentID)
	assert.Equal(t, "Free", voice.Name)
}

func TestDeleteRefusesWhileOccupied(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "alice"})

	f.addMember(7, "bob")
	f.connect(7, r.VoiceChannelID())

	deleted, err := r.Delete(context.Background())
	assert.NoError(t, err)
	assert.False(t, deleted)
	assert.Empty(t, f.deleted)

	f.connect(7, 0)
	deleted, err = r.Delete(context.Background())
	assert.NoError(t, err)
	assert.True(t, deleted)
	_, ok := f.Channel(r.ID())
	assert.False(t, ok)
}

func TestDeleteRefusesWhileReserved(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "event", Reserved: true, EventID: 99})

	deleted, err := r.Delete(context.Background())
	assert.NoError(t, err)
	assert.False(t, deleted)
	assert.Empty(t, f.deleted)

	r.SetReserved(false)
	deleted, err = r.Delete(context.Background())
	assert.NoError(t, err)
	assert.True(t, deleted)
}

func TestDeleteRemovesAdditionalChannelsFirst(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "alice"})

	_, err := r.SetAdditionalVoiceChannels(context.Background(), 2)
	require.NoError(t, err)
	additional := append([]snowflake.ID(nil), r.additionalVoiceChannelIDs...)
	voiceID, textID, categoryID := r.VoiceChannelID(), r.textChannelID, r.ID()

	deleted, err := r.Delete(context.Background())
	require.NoError(t, err)
	require.True(t, deleted)
	assert.Equal(t, []snowflake.ID{additional[1], additional[0], voiceID, textID, categoryID}, f.deleted)
}

func TestJoinGrantsAndLeaveKeepsAccess(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "alice"})

	require.NoError(t, r.Join(context.Background(), 7))
	assert.Equal(t, []snowflake.ID{7}, f.grants[r.textChannelID])

	// a plain room keeps the overwrite on leave, the chat history stays
	// readable until the room goes away
	require.NoError(t, r.Leave(context.Background(), 7))
	assert.Empty(t, f.revokes[r.textChannelID])
}

func TestLeaveRevokesAccessInEventRooms(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "event", EventID: 99})

	require.NoError(t, r.Join(context.Background(), 7))
	require.NoError(t, r.Leave(context.Background(), 7))
	assert.Equal(t, []snowflake.ID{7}, f.revokes[r.textChannelID])
}

func TestSetAdditionalVoiceChannels(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "alice"})

	n, err := r.SetAdditionalVoiceChannels(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	first, ok := f.Channel(r.additionalVoiceChannelIDs[0])
	require.True(t, ok)
	assert.Equal(t, "VC [1]", first.Name)
	assert.Equal(t, r.ID(), first.ParentID)
	second, _ := f.Channel(r.additionalVoiceChannelIDs[1])
	assert.Equal(t, "VC [2]", second.Name)

	// same count is a no-op
	deletions := len(f.deleted)
	n, err = r.SetAdditionalVoiceChannels(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, f.deleted, deletions)

	// shrink removes the tail, the first channel survives untouched
	n, err = r.SetAdditionalVoiceChannels(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, first.ID, r.additionalVoiceChannelIDs[0])
	_, ok = f.Channel(second.ID)
	assert.False(t, ok)

	n, err = r.SetAdditionalVoiceChannels(context.Background(), -3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSetGame(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	settings := defaultSettings()
	settings.IgnoreRoleIDs[42] = struct{}{}
	r := createTestRoom(t, f, games, settings, Options{HostName: "alice"})

	f.addRole(10, "Valorant")

	g, err := r.SetGame(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "Valorant", g.Name)
	voice, _ := f.Channel(r.VoiceChannelID())
	assert.Equal(t, "Valorant", voice.Name)

	// the game is now registered
	stored, err := games.GetGame(10)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Valorant", stored.Name)

	// unknown role resolves to nothing and changes nothing
	g, err = r.SetGame(context.Background(), 11)
	assert.NoError(t, err)
	assert.Nil(t, g)
	assert.Equal(t, "Valorant", r.Game().Name)

	// ignored role likewise
	f.addRole(42, "Moderator")
	g, err = r.SetGame(context.Background(), 42)
	assert.NoError(t, err)
	assert.Nil(t, g)

	// everyone role maps back to the default game
	g, err = r.SetGame(context.Background(), testGuildID)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, games.DefaultGame(), g)
	voice, _ = f.Channel(r.VoiceChannelID())
	assert.Equal(t, "Free", voice.Name)
}

func TestMoveMember(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "alice"})
	_, err := r.SetAdditionalVoiceChannels(context.Background(), 1)
	require.NoError(t, err)

	f.addMember(7, "bob")
	f.connect(7, r.VoiceChannelID())
	vs, _ := f.VoiceStateOf(testGuildID, 7)

	// out of range: refused without touching the platform
	assert.False(t, r.MoveMember(context.Background(), vs, 5))
	assert.Empty(t, f.moves)

	// already in the target channel: success without a call
	assert.True(t, r.MoveMember(context.Background(), vs, 0))
	assert.Empty(t, f.moves)

	assert.True(t, r.MoveMember(context.Background(), vs, 1))
	moved, _ := f.VoiceStateOf(testGuildID, 7)
	assert.Equal(t, r.additionalVoiceChannelIDs[0], moved.ChannelID)

	f.failMove = true
	vs, _ = f.VoiceStateOf(testGuildID, 7)
	assert.False(t, r.MoveMember(context.Background(), vs, 0))
}

func TestCallMembers(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "alice"})
	_, err := r.SetAdditionalVoiceChannels(context.Background(), 1)
	require.NoError(t, err)

	for i := snowflake.ID(1); i <= 3; i++ {
		f.addMember(i, "user")
		f.connect(i, r.additionalVoiceChannelIDs[0])
	}

	moved, failed := r.CallMembers(context.Background(), 0)
	assert.Equal(t, 3, moved)
	assert.Equal(t, 0, failed)
	for i := snowflake.ID(1); i <= 3; i++ {
		vs, _ := f.VoiceStateOf(testGuildID, i)
		assert.Equal(t, r.VoiceChannelID(), vs.ChannelID)
	}
}

func TestMembersDeduplicatesAndSkipsBots(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "alice"})

	f.addMember(7, "bob")
	f.connect(7, r.VoiceChannelID())
	f.mu.Lock()
	f.members[8] = discord.Member{User: discord.User{ID: 8, Username: "beep", Bot: true}}
	f.mu.Unlock()
	f.connect(8, r.VoiceChannelID())

	members := r.Members()
	require.Len(t, members, 1)
	assert.Equal(t, snowflake.ID(7), members[0].User.ID)
	assert.True(t, r.HasMember(7))
	assert.False(t, r.HasMember(8))
}

func TestSyncTextChannelPermissionsSkipsUnchanged(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "alice"})

	f.addMember(7, "bob")
	f.connect(7, r.VoiceChannelID())

	require.NoError(t, r.SyncTextChannelPermissions(context.Background()))
	require.Len(t, f.replacedOverwrite, 1)
	applied := f.replacedOverwrite[0]
	require.Len(t, applied, 2)
	assert.Equal(t, testGuildID, applied[0].ID)
	assert.Equal(t, snowflake.ID(7), applied[1].ID)
	assert.Equal(t, discord.PermissionViewChannel, applied[1].Allow)

	// unchanged membership: no second platform call
	require.NoError(t, r.SyncTextChannelPermissions(context.Background()))
	assert.Len(t, f.replacedOverwrite, 1)

	f.addMember(9, "carol")
	f.connect(9, r.VoiceChannelID())
	require.NoError(t, r.SyncTextChannelPermissions(context.Background()))
	assert.Len(t, f.replacedOverwrite, 2)
}

func TestInitialGameFromRecentWantedMessage(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	settings := defaultSettings()
	settings.WantedChannelID = testWantedID

	f.addRole(10, "Valorant")
	f.addMember(7, "alice", 10)
	f.addMessage(discord.Message{
		ID: 1, ChannelID: testWantedID,
		Author:         discord.User{ID: 7},
		Timestamp:      time.Now().Add(-time.Hour),
		MentionRoleIDs: []snowflake.ID{10},
	})

	r := createTestRoom(t, f, games, settings, Options{HostName: "alice", OwnerID: 7})
	assert.Equal(t, "Valorant", r.Game().Name)
	voice, _ := f.Channel(r.VoiceChannelID())
	assert.Equal(t, "Valorant", voice.Name)
}

func TestInitialGameIgnoresStaleMessages(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	settings := defaultSettings()
	settings.WantedChannelID = testWantedID

	f.addRole(10, "Valorant")
	f.addMember(7, "alice", 10)
	f.addMessage(discord.Message{
		ID: 1, ChannelID: testWantedID,
		Author:         discord.User{ID: 7},
		Timestamp:      time.Now().Add(-7 * time.Hour),
		MentionRoleIDs: []snowflake.ID{10},
	})

	r := createTestRoom(t, f, games, settings, Options{HostName: "alice", OwnerID: 7})
	assert.Equal(t, "Free", r.Game().Name)
}

func TestInitialGameRequiresHeldRole(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	settings := defaultSettings()
	settings.WantedChannelID = testWantedID

	f.addRole(10, "Valorant")
	f.addMember(7, "alice") // no roles
	f.addMessage(discord.Message{
		ID: 1, ChannelID: testWantedID,
		Author:         discord.User{ID: 7},
		Timestamp:      time.Now().Add(-time.Hour),
		MentionRoleIDs: []snowflake.ID{10},
	})

	r := createTestRoom(t, f, games, settings, Options{HostName: "alice", OwnerID: 7})
	assert.Equal(t, "Free", r.Game().Name)
}

func TestInitialGameRespectsFilter(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	settings := defaultSettings()
	settings.WantedChannelID = testWantedID
	prog, err := filter.Compile(`Content contains "lfg"`)
	require.NoError(t, err)
	settings.LFGFilter = prog

	f.addRole(10, "Valorant")
	f.addMember(7, "alice", 10)
	f.addMessage(discord.Message{
		ID: 1, ChannelID: testWantedID,
		Author:         discord.User{ID: 7},
		Content:        "anyone around?",
		Timestamp:      time.Now().Add(-time.Hour),
		MentionRoleIDs: []snowflake.ID{10},
	})

	// the filtered-out message must not set the initial game
	r := createTestRoom(t, f, games, settings, Options{HostName: "alice", OwnerID: 7})
	assert.Equal(t, "Free", r.Game().Name)

	f.addMessage(discord.Message{
		ID: 2, ChannelID: testWantedID,
		Author:         discord.User{ID: 7},
		Content:        "lfg ranked",
		Timestamp:      time.Now().Add(-time.Minute),
		MentionRoleIDs: []snowflake.ID{10},
	})
	r = createTestRoom(t, f, games, settings, Options{HostName: "alice", OwnerID: 7})
	assert.Equal(t, "Valorant", r.Game().Name)
}

func TestCollectorRetagsRoom(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	settings := defaultSettings()
	settings.WantedChannelID = testWantedID

	f.addRole(10, "Valorant")
	f.addMember(7, "alice", 10)
	r := createTestRoom(t, f, games, settings, Options{HostName: "alice", OwnerID: 7})
	f.connect(7, r.VoiceChannelID())

	// a mention from someone not in the room does nothing
	f.addMember(8, "mallory", 10)
	f.publish(discord.Message{
		ID: 1, ChannelID: testWantedID,
		Author:         discord.User{ID: 8},
		Timestamp:      time.Now(),
		MentionRoleIDs: []snowflake.ID{10},
	})
	assert.Equal(t, "Free", r.Game().Name)

	f.publish(discord.Message{
		ID: 2, ChannelID: testWantedID,
		Author:         discord.User{ID: 7},
		Timestamp:      time.Now(),
		MentionRoleIDs: []snowflake.ID{10},
	})
	assert.Equal(t, "Valorant", r.Game().Name)
}

func TestCollectorStopsAfterDelete(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	settings := defaultSettings()
	settings.WantedChannelID = testWantedID

	r := createTestRoom(t, f, games, settings, Options{HostName: "alice"})
	deleted, err := r.Delete(context.Background())
	require.NoError(t, err)
	require.True(t, deleted)
	assert.Equal(t, 1, f.cancelled)
}

func TestSnapshotRoundTrip(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := createTestRoom(t, f, games, defaultSettings(), Options{HostName: "alice", OwnerID: 7})
	_, err := r.SetAdditionalVoiceChannels(context.Background(), 2)
	require.NoError(t, err)

	snapshot, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, r.ID(), snapshot.ID)
	assert.Equal(t, 1, snapshot.Version)

	restored, err := FromSnapshot(f, games, defaultSettings(), snapshot)
	require.NoError(t, err)
	assert.Equal(t, r.ID(), restored.ID())
	assert.Equal(t, r.HostName(), restored.HostName())
	assert.Equal(t, r.VoiceChannelIDs(), restored.VoiceChannelIDs())
	assert.Equal(t, r.Game(), restored.Game())
}

func TestSnapshotRequiresCompleteRoom(t *testing.T) {
	f := newFakeProvider(testGuildID)
	games, _ := newTestRegistry(t)
	r := New(f, games, defaultSettings(), testGuildID, Options{HostName: "alice"})
	_, err := r.Snapshot()
	assert.Error(t, err)
}
