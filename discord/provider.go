package discord

import (
	"context"

	"github.com/disgoorg/snowflake/v2"
)

// The provider interfaces are the only surface the room machinery sees of
// Discord. Session implements all of them against the live gateway + REST
// API; tests substitute fakes.

// ChannelProvider mutates and resolves the guild channel graph. Resolution is
// served from the gateway cache and never blocks; mutations are REST calls.
type ChannelProvider interface {
	CreateCategory(ctx context.Context, guildID snowflake.ID, name string, position int) (snowflake.ID, error)
	CreateTextChannel(ctx context.Context, guildID snowflake.ID, name string, parentID snowflake.ID, overwrites []PermissionOverwrite) (snowflake.ID, error)
	CreateVoiceChannel(ctx context.Context, guildID snowflake.ID, name string, parentID snowflake.ID, bitrate int) (snowflake.ID, error)
	DeleteChannel(ctx context.Context, channelID snowflake.ID) error
	RenameChannel(ctx context.Context, channelID snowflake.ID, name string) error
	Channel(channelID snowflake.ID) (Channel, bool)
	// GrantView allows one member to see the channel; RevokeView removes the
	// member's overwrite entirely (back to the channel default).
	GrantView(ctx context.Context, channelID, memberID snowflake.ID) error
	RevokeView(ctx context.Context, channelID, memberID snowflake.ID) error
	ReplacePermissionOverwrites(ctx context.Context, channelID snowflake.ID, overwrites []PermissionOverwrite) error
}

// PresenceProvider answers who occupies which voice channel. Occupants is a
// live projection of the gateway voice-state cache; it is authoritative
// relative to any event payload a caller may be holding.
type PresenceProvider interface {
	Occupants(channelID snowflake.ID) []Member
	VoiceStateOf(guildID, userID snowflake.ID) (VoiceState, bool)
	MoveMember(ctx context.Context, guildID, userID, channelID snowflake.ID) error
}

// MessageProvider exposes the recent-message cache of a text channel and a
// cancellable live subscription to new messages.
type MessageProvider interface {
	RecentMessages(channelID snowflake.ID) []Message
	SubscribeMessages(channelID snowflake.ID, fn func(Message)) (cancel func())
}

type RoleProvider interface {
	Role(guildID, roleID snowflake.ID) (Role, bool)
	// MemberHasRole treats the implicit everyone role as held by every member.
	MemberHasRole(guildID, userID, roleID snowflake.ID) bool
	EveryoneRoleID(guildID snowflake.ID) snowflake.ID
}

type GuildProvider interface {
	GuildExists(guildID snowflake.ID) bool
	Guild(guildID snowflake.ID) (Guild, bool)
	GuildMember(guildID, userID snowflake.ID) (Member, bool)
}

// EventProvider covers the scheduled-event calls the event-room bridge needs.
type EventProvider interface {
	SetEventChannel(ctx context.Context, guildID, eventID, channelID snowflake.ID) error
	EventSubscribers(ctx context.Context, guildID, eventID snowflake.ID) ([]Member, error)
}

type Provider interface {
	ChannelProvider
	PresenceProvider
	MessageProvider
	RoleProvider
	GuildProvider
	EventProvider
}
