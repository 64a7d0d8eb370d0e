package discord

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

type ChannelType int

const (
	ChannelTypeGuildText     ChannelType = 0
	ChannelTypeGuildVoice    ChannelType = 2
	ChannelTypeGuildCategory ChannelType = 4
)

// Permissions is the Discord permission bitset. The REST API transports it as
// a decimal string.
type Permissions uint64

const PermissionViewChannel Permissions = 1 << 10

func (p Permissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(p), 10))
}

func (p *Permissions) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*p = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*p = Permissions(v)
	return nil
}

type OverwriteType int

const (
	OverwriteTypeRole   OverwriteType = 0
	OverwriteTypeMember OverwriteType = 1
)

// PermissionOverwrite is one entry of a channel's permission overwrite list.
type PermissionOverwrite struct {
	ID    snowflake.ID  `json:"id"`
	Type  OverwriteType `json:"type"`
	Allow Permissions   `json:"allow"`
	Deny  Permissions   `json:"deny"`
}

type Channel struct {
	ID       snowflake.ID `json:"id"`
	GuildID  snowflake.ID `json:"guild_id"`
	Type     ChannelType  `json:"type"`
	Name     string       `json:"name"`
	ParentID snowflake.ID `json:"parent_id"`
	Position int          `json:"position"`
}

type User struct {
	ID       snowflake.ID `json:"id"`
	Username string       `json:"username"`
	Bot      bool         `json:"bot"`
}

type Member struct {
	User    User           `json:"user"`
	Nick    string         `json:"nick"`
	RoleIDs []snowflake.ID `json:"roles"`
}

// DisplayName is the name rooms are titled after: the guild nick when set,
// the account name otherwise.
func (m Member) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.User.Username
}

type Role struct {
	ID   snowflake.ID `json:"id"`
	Name string       `json:"name"`
}

// VoiceState reports which voice channel a user currently occupies. A zero
// ChannelID means the user is not connected to voice.
type VoiceState struct {
	GuildID   snowflake.ID `json:"guild_id"`
	ChannelID snowflake.ID `json:"channel_id"`
	UserID    snowflake.ID `json:"user_id"`
	Member    *Member      `json:"member"`
}

type Message struct {
	ID              snowflake.ID   `json:"id"`
	ChannelID       snowflake.ID   `json:"channel_id"`
	GuildID         snowflake.ID   `json:"guild_id"`
	Author          User           `json:"author"`
	Content         string         `json:"content"`
	Timestamp       time.Time      `json:"timestamp"`
	EditedTimestamp time.Time      `json:"edited_timestamp"`
	MentionEveryone bool           `json:"mention_everyone"`
	MentionRoleIDs  []snowflake.ID `json:"mention_roles"`
}

// EffectiveTime is the edit time when the message was edited, the creation
// time otherwise. Staleness checks use this, a freshly edited LFG post counts
// as new.
func (m Message) EffectiveTime() time.Time {
	if !m.EditedTimestamp.IsZero() {
		return m.EditedTimestamp
	}
	return m.Timestamp
}

type ScheduledEventStatus int

const (
	EventStatusScheduled ScheduledEventStatus = 1
	EventStatusActive    ScheduledEventStatus = 2
	EventStatusCompleted ScheduledEventStatus = 3
	EventStatusCanceled  ScheduledEventStatus = 4
)

type ScheduledEvent struct {
	ID        snowflake.ID         `json:"id"`
	GuildID   snowflake.ID         `json:"guild_id"`
	ChannelID snowflake.ID         `json:"channel_id"`
	Name      string               `json:"name"`
	Status    ScheduledEventStatus `json:"status"`
}

type Guild struct {
	ID          snowflake.ID `json:"id"`
	Name        string       `json:"name"`
	PremiumTier int          `json:"premium_tier"`
}

// MaxBitrate returns the highest voice bitrate the guild's boost tier allows.
func (g Guild) MaxBitrate() int {
	switch g.PremiumTier {
	case 1:
		return 128000
	case 2:
		return 256000
	case 3:
		return 384000
	}
	return 96000
}
