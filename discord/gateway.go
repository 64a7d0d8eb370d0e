package discord

import (
	"context"
	"encoding/json"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"

	"github.com/hiyorigaoka/roomkeeper/globals"
)

const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11

	intentGuilds          = 1 << 0
	intentGuildMembers    = 1 << 1
	intentVoiceStates     = 1 << 7
	intentGuildMessages   = 1 << 9
	intentMessageContent  = 1 << 15
	intentScheduledEvents = 1 << 16

	reconnectDelay = 5 * time.Second
)

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  int64           `json:"s"`
	T  string          `json:"t"`
}

// Open connects to the gateway and keeps the connection alive until the
// context is cancelled, reconnecting with a fixed delay on failure. It
// returns after the first successful identify; the caches fill asynchronously
// from the dispatch stream, use WaitReady before reading them.
func (s *Session) Open(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	conn, err := s.connect(ctx)
	if err != nil {
		cancel()
		return err
	}

	go func() {
		defer close(s.done)
		for {
			s.readLoop(ctx, conn)
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			globals.AppLogger.Warn("gateway connection lost, reconnecting", "delay", reconnectDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			conn, err = s.connect(ctx)
			if err != nil {
				globals.AppLogger.Error("gateway reconnect failed", "error", err)
				conn = nil
			}
			if conn == nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
			}
		}
	}()
	return nil
}

// Close tears the gateway connection down and waits for the run loop to exit.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// connect dials the gateway, performs the hello/identify handshake and starts
// the heartbeat loop for this connection.
func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.gatewayURL, nil)
	if err != nil {
		return nil, err
	}

	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, err
	}
	var helloData struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		conn.Close()
		return nil, err
	}

	identify := map[string]interface{}{
		"op": opIdentify,
		"d": map[string]interface{}{
			"token": s.token,
			"intents": intentGuilds | intentGuildMembers | intentVoiceStates |
				intentGuildMessages | intentMessageContent | intentScheduledEvents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "roomkeeper",
				"device":  "roomkeeper",
			},
		},
	}
	if err := s.writeJSON(conn, identify); err != nil {
		conn.Close()
		return nil, err
	}

	interval := time.Duration(helloData.HeartbeatInterval) * time.Millisecond
	go s.heartbeatLoop(ctx, conn, interval)

	globals.AppLogger.Info("gateway connected", "instance_id", s.instanceID)
	return conn, nil
}

func (s *Session) writeJSON(conn *websocket.Conn, v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (s *Session) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.writeJSON(conn, map[string]interface{}{"op": opHeartbeat, "d": nil})
			if err != nil {
				// the read loop notices the broken connection and reconnects
				return
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var payload gatewayPayload
		if err := conn.ReadJSON(&payload); err != nil {
			if ctx.Err() == nil {
				globals.AppLogger.Error("gateway read failed", "error", err)
			}
			return
		}
		switch payload.Op {
		case opDispatch:
			s.dispatch(payload.T, payload.D)
		case opHeartbeat:
			_ = s.writeJSON(conn, map[string]interface{}{"op": opHeartbeat, "d": nil})
		case opReconnect, opInvalidSession:
			globals.AppLogger.Warn("gateway requested reconnect", "op", payload.Op)
			return
		case opHeartbeatACK:
		}
	}
}

func (s *Session) dispatch(event string, data json.RawMessage) {
	raw := map[string]interface{}{}
	if err := json.Unmarshal(data, &raw); err != nil {
		globals.AppLogger.Error("could not decode dispatch payload", "event", event, "error", err)
		return
	}

	switch event {
	case "READY":
		var ready struct {
			User   User `json:"user"`
			Guilds []struct {
				ID snowflake.ID `json:"id"`
			} `json:"guilds"`
		}
		if err := decodeInto(raw, &ready); err == nil {
			s.mu.Lock()
			s.selfUserID = ready.User.ID
			s.readySeen = true
			for _, g := range ready.Guilds {
				if _, cached := s.guilds[g.ID]; !cached {
					s.pendingGuilds[g.ID] = struct{}{}
				}
			}
			s.mu.Unlock()
			s.markReadyIfComplete()
		}
		globals.AppLogger.Info("gateway ready", "user_id", s.selfUserID)

	case "GUILD_CREATE":
		s.handleGuildCreate(raw)

	case "GUILD_DELETE":
		var g Guild
		if err := decodeInto(raw, &g); err == nil {
			s.mu.Lock()
			delete(s.guilds, g.ID)
			// an announced guild that turns out unavailable must not stall
			// readiness
			delete(s.pendingGuilds, g.ID)
			s.mu.Unlock()
			s.markReadyIfComplete()
		}

	case "CHANNEL_CREATE", "CHANNEL_UPDATE":
		var ch Channel
		if err := decodeInto(raw, &ch); err == nil {
			s.putChannel(ch)
		}

	case "CHANNEL_DELETE":
		var ch Channel
		if err := decodeInto(raw, &ch); err == nil {
			s.dropChannel(ch.ID)
		}

	case "GUILD_ROLE_CREATE", "GUILD_ROLE_UPDATE":
		var payload struct {
			GuildID snowflake.ID `json:"guild_id"`
			Role    Role         `json:"role"`
		}
		if err := decodeInto(raw, &payload); err == nil {
			s.mu.Lock()
			if s.roles[payload.GuildID] == nil {
				s.roles[payload.GuildID] = make(map[snowflake.ID]Role)
			}
			s.roles[payload.GuildID][payload.Role.ID] = payload.Role
			s.mu.Unlock()
		}

	case "GUILD_ROLE_DELETE":
		var payload struct {
			GuildID snowflake.ID `json:"guild_id"`
			RoleID  snowflake.ID `json:"role_id"`
		}
		if err := decodeInto(raw, &payload); err == nil {
			s.mu.Lock()
			delete(s.roles[payload.GuildID], payload.RoleID)
			s.mu.Unlock()
		}

	case "GUILD_MEMBER_UPDATE":
		var payload struct {
			GuildID snowflake.ID   `json:"guild_id"`
			User    User           `json:"user"`
			Nick    string         `json:"nick"`
			RoleIDs []snowflake.ID `json:"roles"`
		}
		if err := decodeInto(raw, &payload); err == nil {
			s.putMember(payload.GuildID, Member{User: payload.User, Nick: payload.Nick, RoleIDs: payload.RoleIDs})
		}

	case "VOICE_STATE_UPDATE":
		var vs VoiceState
		if err := decodeInto(raw, &vs); err != nil {
			globals.AppLogger.Error("could not decode voice state", "error", err)
			return
		}
		if vs.Member != nil {
			s.putMember(vs.GuildID, *vs.Member)
		}
		old := s.applyVoiceState(vs)
		s.handlerMu.RLock()
		handlers := s.voiceHandlers
		s.handlerMu.RUnlock()
		for _, fn := range handlers {
			fn(old, vs)
		}

	case "MESSAGE_CREATE", "MESSAGE_UPDATE":
		var msg Message
		if err := decodeInto(raw, &msg); err != nil {
			globals.AppLogger.Error("could not decode message", "error", err)
			return
		}
		s.cacheMessage(msg)
		s.notifyMessage(msg)

	case "GUILD_SCHEDULED_EVENT_CREATE":
		var ev ScheduledEvent
		if err := decodeInto(raw, &ev); err == nil {
			s.mu.Lock()
			s.events[ev.ID] = ev
			s.mu.Unlock()
			s.handlerMu.RLock()
			fn := s.eventCreateHandler
			s.handlerMu.RUnlock()
			if fn != nil {
				fn(ev)
			}
		}

	case "GUILD_SCHEDULED_EVENT_UPDATE":
		var ev ScheduledEvent
		if err := decodeInto(raw, &ev); err == nil {
			s.mu.Lock()
			var old *ScheduledEvent
			if prev, ok := s.events[ev.ID]; ok {
				old = &prev
			}
			s.events[ev.ID] = ev
			s.mu.Unlock()
			s.handlerMu.RLock()
			fn := s.eventUpdateHandler
			s.handlerMu.RUnlock()
			if fn != nil {
				fn(old, ev)
			}
		}

	case "GUILD_SCHEDULED_EVENT_DELETE":
		var ev ScheduledEvent
		if err := decodeInto(raw, &ev); err == nil {
			s.mu.Lock()
			delete(s.events, ev.ID)
			s.mu.Unlock()
			s.handlerMu.RLock()
			fn := s.eventDeleteHandler
			s.handlerMu.RUnlock()
			if fn != nil {
				fn(ev)
			}
		}

	case "GUILD_SCHEDULED_EVENT_USER_ADD", "GUILD_SCHEDULED_EVENT_USER_REMOVE":
		var payload struct {
			EventID snowflake.ID `json:"guild_scheduled_event_id"`
			UserID  snowflake.ID `json:"user_id"`
			GuildID snowflake.ID `json:"guild_id"`
		}
		if err := decodeInto(raw, &payload); err == nil {
			s.handlerMu.RLock()
			fn := s.eventUserHandler
			s.handlerMu.RUnlock()
			if fn != nil {
				fn(payload.EventID, payload.GuildID, payload.UserID, event == "GUILD_SCHEDULED_EVENT_USER_ADD")
			}
		}
	}
}

// handleGuildCreate seeds every cache from the initial guild payload: the
// channel graph, roles, members and the current voice occupancy.
func (s *Session) handleGuildCreate(raw map[string]interface{}) {
	var payload struct {
		Guild       `json:",squash"`
		Channels    []Channel        `json:"channels"`
		Roles       []Role           `json:"roles"`
		Members     []Member         `json:"members"`
		VoiceStates []VoiceState     `json:"voice_states"`
		Events      []ScheduledEvent `json:"guild_scheduled_events"`
	}
	if err := decodeInto(raw, &payload); err != nil {
		globals.AppLogger.Error("could not decode guild", "error", err)
		return
	}
	guildID := payload.Guild.ID

	s.mu.Lock()
	s.guilds[guildID] = payload.Guild
	if s.roles[guildID] == nil {
		s.roles[guildID] = make(map[snowflake.ID]Role)
	}
	for _, role := range payload.Roles {
		s.roles[guildID][role.ID] = role
	}
	for _, ch := range payload.Channels {
		ch.GuildID = guildID
		s.channels[ch.ID] = ch
	}
	if s.members[guildID] == nil {
		s.members[guildID] = make(map[snowflake.ID]Member)
	}
	for _, m := range payload.Members {
		if m.User.ID != 0 {
			s.members[guildID][m.User.ID] = m
		}
	}
	for _, ev := range payload.Events {
		s.events[ev.ID] = ev
	}
	delete(s.pendingGuilds, guildID)
	s.mu.Unlock()

	for _, vs := range payload.VoiceStates {
		vs.GuildID = guildID
		if vs.Member != nil {
			s.putMember(guildID, *vs.Member)
		}
		s.applyVoiceState(vs)
	}
	s.markReadyIfComplete()
	globals.AppLogger.Info("guild cached", "guild_id", guildID, "channels", len(payload.Channels))
}
