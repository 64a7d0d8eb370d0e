package room

import (
	"context"
	"time"

	"github.com/hiyorigaoka/roomkeeper/discord"
	"github.com/hiyorigaoka/roomkeeper/filter"
	"github.com/hiyorigaoka/roomkeeper/globals"
)

// setupGameCollector subscribes the room to the wanted channel so that LFG
// messages posted by a current member retag the room while it lives. The
// subscription is torn down when the room is deleted.
func (r *Room) setupGameCollector() {
	if r.settings.WantedChannelID == 0 {
		return
	}
	if r.stopCollector != nil {
		r.stopCollector()
	}
	r.stopCollector = r.p.SubscribeMessages(r.settings.WantedChannelID, r.collectMessage)
}

// collectMessage is the collector body. Built-in checks come first (fresh,
// mentions a role or everyone), then the operator-configured filter, then the
// binding checks: the author must currently sit in the room and must hold the
// mentioned role.
func (r *Room) collectMessage(msg discord.Message) {
	if msg.Author.Bot {
		return
	}
	if time.Since(msg.EffectiveTime()) > r.settings.Staleness {
		return
	}
	if !msg.MentionEveryone && len(msg.MentionRoleIDs) == 0 {
		return
	}
	if !filter.Run(r.settings.LFGFilter, r.filterEnv(msg)) {
		return
	}
	if !r.HasMember(msg.Author.ID) {
		return
	}

	roleID := r.p.EveryoneRoleID(r.guildID)
	if len(msg.MentionRoleIDs) > 0 {
		roleID = msg.MentionRoleIDs[0]
	}
	if !r.p.MemberHasRole(r.guildID, msg.Author.ID, roleID) {
		return
	}
	if _, err := r.SetGame(context.Background(), roleID); err != nil {
		globals.AppLogger.Error("could not apply collected game", "room_id", r.categoryID, "error", err)
	}
}

func (r *Room) filterEnv(msg discord.Message) filter.Env {
	env := filter.Env{
		Author: filter.Author{
			Id:  msg.Author.ID.String(),
			Bot: msg.Author.Bot,
		},
		Message: filter.Message{
			Id:               msg.ID.String(),
			ChannelId:        msg.ChannelID.String(),
			Content:          msg.Content,
			MentionsEveryone: msg.MentionEveryone,
			AgeSeconds:       int64(time.Since(msg.EffectiveTime()).Seconds()),
		},
	}
	for _, id := range msg.MentionRoleIDs {
		env.MentionRoleIds = append(env.MentionRoleIds, id.String())
	}
	if member, ok := r.p.GuildMember(r.guildID, msg.Author.ID); ok {
		env.Author.Nick = member.DisplayName()
		for _, id := range member.RoleIDs {
			env.Author.RoleIds = append(env.Author.RoleIds, id.String())
		}
	}
	return env
}
