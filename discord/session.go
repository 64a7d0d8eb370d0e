package discord

import (
	"context"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/hiyorigaoka/roomkeeper/config"
	"github.com/hiyorigaoka/roomkeeper/globals"
)

const (
	defaultAPIBase    = "https://discord.com/api/v10"
	defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

	messageCacheSize = 200
)

// Session is the live connection to Discord: a REST client plus a gateway
// websocket feeding the caches the provider interfaces are answered from.
type Session struct {
	token      string
	apiBase    string
	gatewayURL string
	instanceID string

	httpClient httpDoer

	mu         sync.RWMutex
	guilds     map[snowflake.ID]Guild
	channels   map[snowflake.ID]Channel
	roles      map[snowflake.ID]map[snowflake.ID]Role
	members    map[snowflake.ID]map[snowflake.ID]Member
	voice      map[snowflake.ID]map[snowflake.ID]VoiceState
	events     map[snowflake.ID]ScheduledEvent
	messages   map[snowflake.ID]*lru.Cache
	selfUserID snowflake.ID

	// readiness: READY announces the guild ids, the GUILD_CREATE burst fills
	// the caches; ready closes once every announced guild has arrived
	ready         chan struct{}
	readyOnce     sync.Once
	readySeen     bool
	pendingGuilds map[snowflake.ID]struct{}

	subMu     sync.Mutex
	nextSubID int
	subs      map[snowflake.ID]map[int]func(Message)

	handlerMu          sync.RWMutex
	voiceHandlers      []func(old, new VoiceState)
	eventCreateHandler func(ScheduledEvent)
	eventUpdateHandler func(old *ScheduledEvent, new ScheduledEvent)
	eventDeleteHandler func(ScheduledEvent)
	eventUserHandler   func(eventID, guildID, userID snowflake.ID, added bool)

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSession(cfg *config.Config) *Session {
	apiBase := cfg.DiscordConfig.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	gatewayURL := cfg.DiscordConfig.GatewayURL
	if gatewayURL == "" {
		gatewayURL = defaultGatewayURL
	}
	return &Session{
		token:      cfg.DiscordConfig.Token,
		apiBase:    apiBase,
		gatewayURL: gatewayURL,
		instanceID: uuid.NewString(),
		httpClient: newHTTPClient(),
		guilds:     make(map[snowflake.ID]Guild),
		channels:   make(map[snowflake.ID]Channel),
		roles:      make(map[snowflake.ID]map[snowflake.ID]Role),
		members:    make(map[snowflake.ID]map[snowflake.ID]Member),
		voice:      make(map[snowflake.ID]map[snowflake.ID]VoiceState),
		events:     make(map[snowflake.ID]ScheduledEvent),
		messages:   make(map[snowflake.ID]*lru.Cache),
		subs:       make(map[snowflake.ID]map[int]func(Message)),

		ready:         make(chan struct{}),
		pendingGuilds: make(map[snowflake.ID]struct{}),
	}
}

var _ Provider = (*Session)(nil)

// InstanceID identifies this process boot in logs and the status API.
func (s *Session) InstanceID() string { return s.instanceID }

// WaitReady blocks until the gateway has delivered READY and the initial
// GUILD_CREATE burst it announced, i.e. until the guild and channel caches
// answer authoritatively. Anything that judges persisted state against the
// caches (snapshot recovery in particular) must wait for this.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) markReadyIfComplete() {
	s.mu.RLock()
	complete := s.readySeen && len(s.pendingGuilds) == 0
	s.mu.RUnlock()
	if complete {
		s.readyOnce.Do(func() { close(s.ready) })
	}
}

// OnVoiceStateUpdate registers a handler called with the previous (possibly
// zero) and the new voice state of a user.
func (s *Session) OnVoiceStateUpdate(fn func(old, new VoiceState)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.voiceHandlers = append(s.voiceHandlers, fn)
}

func (s *Session) OnScheduledEventCreate(fn func(ScheduledEvent)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.eventCreateHandler = fn
}

func (s *Session) OnScheduledEventUpdate(fn func(old *ScheduledEvent, new ScheduledEvent)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.eventUpdateHandler = fn
}

func (s *Session) OnScheduledEventDelete(fn func(ScheduledEvent)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.eventDeleteHandler = fn
}

func (s *Session) OnScheduledEventUser(fn func(eventID, guildID, userID snowflake.ID, added bool)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.eventUserHandler = fn
}

// cache queries

func (s *Session) Channel(channelID snowflake.ID) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	return ch, ok
}

func (s *Session) Guild(guildID snowflake.ID) (Guild, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[guildID]
	return g, ok
}

func (s *Session) GuildExists(guildID snowflake.ID) bool {
	_, ok := s.Guild(guildID)
	return ok
}

func (s *Session) GuildMember(guildID, userID snowflake.ID) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[guildID][userID]
	return m, ok
}

func (s *Session) Role(guildID, roleID snowflake.ID) (Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[guildID][roleID]
	return r, ok
}

// EveryoneRoleID returns the implicit everyone role, which Discord keys by
// the guild id itself.
func (s *Session) EveryoneRoleID(guildID snowflake.ID) snowflake.ID {
	return guildID
}

func (s *Session) MemberHasRole(guildID, userID, roleID snowflake.ID) bool {
	if roleID == s.EveryoneRoleID(guildID) {
		return true
	}
	member, ok := s.GuildMember(guildID, userID)
	if !ok {
		return false
	}
	for _, id := range member.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Occupants lists the members currently connected to the given voice channel,
// straight from the gateway voice-state cache.
func (s *Session) Occupants(channelID snowflake.ID) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	occupants := make([]Member, 0)
	ch, ok := s.channels[channelID]
	if !ok {
		return occupants
	}
	for userID, vs := range s.voice[ch.GuildID] {
		if vs.ChannelID != channelID {
			continue
		}
		if m, ok := s.members[ch.GuildID][userID]; ok {
			occupants = append(occupants, m)
		}
	}
	return occupants
}

func (s *Session) VoiceStateOf(guildID, userID snowflake.ID) (VoiceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.voice[guildID][userID]
	return vs, ok
}

// RecentMessages returns the cached messages of a channel, oldest first.
func (s *Session) RecentMessages(channelID snowflake.ID) []Message {
	s.mu.RLock()
	cache := s.messages[channelID]
	s.mu.RUnlock()
	messages := make([]Message, 0)
	if cache == nil {
		return messages
	}
	for _, key := range cache.Keys() {
		if v, ok := cache.Get(key); ok {
			messages = append(messages, v.(Message))
		}
	}
	return messages
}

// SubscribeMessages registers fn for every new message in the channel. The
// returned cancel func removes the subscription; it is idempotent.
func (s *Session) SubscribeMessages(channelID snowflake.ID, fn func(Message)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	if s.subs[channelID] == nil {
		s.subs[channelID] = make(map[int]func(Message))
	}
	s.subs[channelID][id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs[channelID], id)
	}
}

// cache maintenance, called from the gateway dispatch path

func (s *Session) putChannel(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
}

func (s *Session) dropChannel(channelID snowflake.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelID)
}

func (s *Session) putMember(guildID snowflake.ID, m Member) {
	if m.User.ID == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[guildID] == nil {
		s.members[guildID] = make(map[snowflake.ID]Member)
	}
	s.members[guildID][m.User.ID] = m
}

func (s *Session) cacheMessage(msg Message) {
	s.mu.Lock()
	cache := s.messages[msg.ChannelID]
	if cache == nil {
		var err error
		cache, err = lru.New(messageCacheSize)
		if err != nil {
			s.mu.Unlock()
			globals.AppLogger.Error("could not create message cache", "error", err)
			return
		}
		s.messages[msg.ChannelID] = cache
	}
	s.mu.Unlock()
	cache.Add(msg.ID, msg)
}

func (s *Session) notifyMessage(msg Message) {
	s.subMu.Lock()
	fns := make([]func(Message), 0, len(s.subs[msg.ChannelID]))
	for _, fn := range s.subs[msg.ChannelID] {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// applyVoiceState stores the new state and returns the previous one for the
// same user, which is the only place "old" state can come from: the gateway
// only ever sends the new state.
func (s *Session) applyVoiceState(vs VoiceState) VoiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var old VoiceState
	if guildStates, ok := s.voice[vs.GuildID]; ok {
		old = guildStates[vs.UserID]
	}
	if s.voice[vs.GuildID] == nil {
		s.voice[vs.GuildID] = make(map[snowflake.ID]VoiceState)
	}
	if vs.ChannelID == 0 {
		delete(s.voice[vs.GuildID], vs.UserID)
	} else {
		s.voice[vs.GuildID][vs.UserID] = vs
	}
	return old
}
