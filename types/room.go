package types

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
	"gorm.io/datatypes"
)

// SnapshotVersion is bumped whenever the persisted layout of RoomSnapshot
// changes incompatibly. Recovery discards snapshots with a different version.
const SnapshotVersion = 1

// RoomChannels holds the ids of the channel group a room owns. The category
// is the anchor: it is the only channel without a parent and doubles as the
// room id.
type RoomChannels struct {
	CategoryID                snowflake.ID                      `json:"category_id"`
	TextChannelID             snowflake.ID                      `json:"text_channel_id"`
	VoiceChannelID            snowflake.ID                      `json:"voice_channel_id"`
	AdditionalVoiceChannelIDs datatypes.JSONSlice[snowflake.ID] `json:"additional_voice_channel_ids"`
}

// RoomSnapshot is the durable projection of a room. Live membership is never
// part of it, voice occupancy is platform-owned truth.
type RoomSnapshot struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Version   int          `json:"version"`
	GuildID   snowflake.ID `json:"guild_id" gorm:"index"`
	HostName  string       `json:"host_name"`
	OwnerID   snowflake.ID `json:"owner_id,omitempty"`
	GameID    snowflake.ID `json:"game_id"`
	Reserved  bool         `json:"reserved"`
	CreatedAt time.Time    `json:"created_at"`
	Channels  RoomChannels `json:"channels" gorm:"embedded"`
	EventID   snowflake.ID `json:"event_id,omitempty"`
}
