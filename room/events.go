package room

import (
	"context"

	"github.com/disgoorg/snowflake/v2"

	"github.com/hiyorigaoka/roomkeeper/discord"
	"github.com/hiyorigaoka/roomkeeper/globals"
)

// EventBridge projects guild scheduled events targeting the lobby channel
// onto rooms. An event room is created reserved so the emptiness guard can
// never reap it while the event is pending; cancelling or completing the
// event lifts the reservation and funnels into the same guarded deletion as
// everything else.
type EventBridge struct {
	manager *Manager
}

func NewEventBridge(manager *Manager) *EventBridge {
	return &EventBridge{manager: manager}
}

// Bind registers the bridge on a session's scheduled-event stream.
func (b *EventBridge) Bind(s *discord.Session) {
	s.OnScheduledEventCreate(func(ev discord.ScheduledEvent) {
		b.HandleEventCreate(context.Background(), ev)
	})
	s.OnScheduledEventUpdate(func(old *discord.ScheduledEvent, new discord.ScheduledEvent) {
		b.HandleEventUpdate(context.Background(), old, new)
	})
	s.OnScheduledEventDelete(func(ev discord.ScheduledEvent) {
		b.HandleEventDelete(context.Background(), ev)
	})
	s.OnScheduledEventUser(func(eventID, guildID, userID snowflake.ID, added bool) {
		b.HandleEventUser(context.Background(), eventID, userID, added)
	})
}

// HandleEventCreate provisions a reserved room for an event that targets the
// lobby channel, retargets the event to the room's voice channel and grants
// the already-interested subscribers access to the room's text channel.
func (b *EventBridge) HandleEventCreate(ctx context.Context, ev discord.ScheduledEvent) {
	m := b.manager
	if ev.ChannelID != m.lobbyChannelID {
		return
	}

	position := -1
	if lobby, ok := m.p.Channel(ev.ChannelID); ok {
		position = lobby.Position
		if lobby.ParentID != 0 {
			if parent, ok := m.p.Channel(lobby.ParentID); ok {
				position = parent.Position
			}
		}
	}

	r := New(m.p, m.games, m.settings, ev.GuildID, Options{
		HostName: ev.Name,
		Reserved: true,
		EventID:  ev.ID,
	})
	roomID, err := r.Create(ctx, position)
	if err != nil {
		if orphans := r.ChannelIDs(); len(orphans) > 0 {
			globals.AppLogger.Error("event room creation failed, channels left behind",
				"event_id", ev.ID, "channel_ids", orphans)
		} else {
			globals.AppLogger.Error("event room creation failed", "event_id", ev.ID, "error", err)
		}
		return
	}
	m.put(r)
	roomsCreated.Inc()

	if err := m.persistRoom(r); err != nil {
		globals.AppLogger.Error("could not persist event room", "room_id", roomID, "error", err)
	}

	if err := m.p.SetEventChannel(ctx, ev.GuildID, ev.ID, r.VoiceChannelID()); err != nil {
		globals.AppLogger.Error("could not retarget event", "event_id", ev.ID, "error", err)
	}

	subscribers, err := m.p.EventSubscribers(ctx, ev.GuildID, ev.ID)
	if err != nil {
		globals.AppLogger.Error("could not list event subscribers", "event_id", ev.ID, "error", err)
	}
	for _, sub := range subscribers {
		if err := r.Join(ctx, sub.User.ID); err != nil {
			globals.AppLogger.Error("could not grant subscriber access",
				"room_id", roomID, "user_id", sub.User.ID, "error", err)
		}
	}
	globals.AppLogger.Info("event room created", "room_id", roomID, "event_id", ev.ID, "name", ev.Name)
}

// HandleEventUpdate tracks event transitions. An active event is left alone:
// the people are in the room, the room lives or dies by occupancy from here.
// Completion releases the room. A retarget away from the room recreates it at
// the new target when that target is the lobby again.
func (b *EventBridge) HandleEventUpdate(ctx context.Context, old *discord.ScheduledEvent, new discord.ScheduledEvent) {
	if new.Status == discord.EventStatusActive {
		return
	}
	if old != nil && old.ChannelID == b.manager.lobbyChannelID && new.ChannelID == b.manager.lobbyChannelID {
		return
	}
	if new.Status == discord.EventStatusCompleted {
		b.HandleEventDelete(ctx, new)
		return
	}
	if old != nil && old.ChannelID != new.ChannelID {
		b.HandleEventDelete(ctx, *old)
	}
	if new.ChannelID == b.manager.lobbyChannelID {
		b.HandleEventCreate(ctx, new)
	}
}

// HandleEventDelete lifts the reservation of the event's room and runs the
// guarded deletion: a room where people already gathered survives the event's
// cancellation.
func (b *EventBridge) HandleEventDelete(ctx context.Context, ev discord.ScheduledEvent) {
	r, ok := b.manager.GetByEvent(ev.ID)
	if !ok {
		return
	}
	r.SetReserved(false)
	if err := b.manager.persistRoom(r); err != nil {
		globals.AppLogger.Error("could not persist event room", "room_id", r.ID(), "error", err)
	}
	if _, err := b.manager.DeleteIfEmpty(ctx, r); err != nil {
		globals.AppLogger.Error("could not delete event room", "room_id", r.ID(), "error", err)
	}
}

// HandleEventUser mirrors event interest onto text-channel access while the
// room exists.
func (b *EventBridge) HandleEventUser(ctx context.Context, eventID, userID snowflake.ID, added bool) {
	r, ok := b.manager.GetByEvent(eventID)
	if !ok {
		return
	}
	var err error
	if added {
		err = r.Join(ctx, userID)
	} else {
		err = r.Leave(ctx, userID)
	}
	if err != nil {
		globals.AppLogger.Error("could not update subscriber access",
			"room_id", r.ID(), "user_id", userID, "error", err)
	}
}
