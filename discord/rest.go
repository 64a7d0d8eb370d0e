package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/hiyorigaoka/roomkeeper/globals"
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// doJSON performs one REST call. A single retry is attempted when Discord
// rate-limits the request; anything else surfaces to the caller.
func (s *Session) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.apiBase+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bot "+s.token)
		req.Header.Set("User-Agent", "DiscordBot (roomkeeper, 1.0)")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			var rl struct {
				RetryAfter float64 `json:"retry_after"`
			}
			_ = json.Unmarshal(respBody, &rl)
			delay := time.Duration(rl.RetryAfter * float64(time.Second))
			globals.AppLogger.Warn("rate limited", "path", path, "retry_after", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		if resp.StatusCode >= http.StatusMultipleChoices {
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(respBody))
		}
		if out == nil || len(respBody) == 0 {
			return nil
		}
		var decoded interface{}
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return err
		}
		return decodeInto(decoded, out)
	}
}

type createChannelRequest struct {
	Name                 string                `json:"name"`
	Type                 ChannelType           `json:"type"`
	ParentID             snowflake.ID          `json:"parent_id,omitempty"`
	Position             *int                  `json:"position,omitempty"`
	Bitrate              int                   `json:"bitrate,omitempty"`
	PermissionOverwrites []PermissionOverwrite `json:"permission_overwrites,omitempty"`
}

func (s *Session) createChannel(ctx context.Context, guildID snowflake.ID, req createChannelRequest) (snowflake.ID, error) {
	var ch Channel
	err := s.doJSON(ctx, http.MethodPost, fmt.Sprintf("/guilds/%s/channels", guildID), req, &ch)
	if err != nil {
		return 0, err
	}
	// warm the cache directly, the gateway CHANNEL_CREATE may lag behind the
	// next resolution of this channel
	ch.GuildID = guildID
	s.putChannel(ch)
	return ch.ID, nil
}

func (s *Session) CreateCategory(ctx context.Context, guildID snowflake.ID, name string, position int) (snowflake.ID, error) {
	req := createChannelRequest{Name: name, Type: ChannelTypeGuildCategory}
	if position >= 0 {
		req.Position = &position
	}
	return s.createChannel(ctx, guildID, req)
}

func (s *Session) CreateTextChannel(ctx context.Context, guildID snowflake.ID, name string, parentID snowflake.ID, overwrites []PermissionOverwrite) (snowflake.ID, error) {
	return s.createChannel(ctx, guildID, createChannelRequest{
		Name:                 name,
		Type:                 ChannelTypeGuildText,
		ParentID:             parentID,
		PermissionOverwrites: overwrites,
	})
}

func (s *Session) CreateVoiceChannel(ctx context.Context, guildID snowflake.ID, name string, parentID snowflake.ID, bitrate int) (snowflake.ID, error) {
	return s.createChannel(ctx, guildID, createChannelRequest{
		Name:     name,
		Type:     ChannelTypeGuildVoice,
		ParentID: parentID,
		Bitrate:  bitrate,
	})
}

func (s *Session) DeleteChannel(ctx context.Context, channelID snowflake.ID) error {
	err := s.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s", channelID), nil, nil)
	if err != nil {
		return err
	}
	s.dropChannel(channelID)
	return nil
}

func (s *Session) RenameChannel(ctx context.Context, channelID snowflake.ID, name string) error {
	err := s.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/channels/%s", channelID),
		map[string]string{"name": name}, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if ch, ok := s.channels[channelID]; ok {
		ch.Name = name
		s.channels[channelID] = ch
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) GrantView(ctx context.Context, channelID, memberID snowflake.ID) error {
	body := map[string]interface{}{
		"type":  OverwriteTypeMember,
		"allow": PermissionViewChannel,
		"deny":  Permissions(0),
	}
	return s.doJSON(ctx, http.MethodPut, fmt.Sprintf("/channels/%s/permissions/%s", channelID, memberID), body, nil)
}

func (s *Session) RevokeView(ctx context.Context, channelID, memberID snowflake.ID) error {
	return s.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/permissions/%s", channelID, memberID), nil, nil)
}

func (s *Session) ReplacePermissionOverwrites(ctx context.Context, channelID snowflake.ID, overwrites []PermissionOverwrite) error {
	body := map[string]interface{}{"permission_overwrites": overwrites}
	return s.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/channels/%s", channelID), body, nil)
}

func (s *Session) MoveMember(ctx context.Context, guildID, userID, channelID snowflake.ID) error {
	body := map[string]interface{}{"channel_id": channelID.String()}
	return s.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/guilds/%s/members/%s", guildID, userID), body, nil)
}

func (s *Session) SetEventChannel(ctx context.Context, guildID, eventID, channelID snowflake.ID) error {
	body := map[string]interface{}{"channel_id": channelID.String()}
	return s.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/guilds/%s/scheduled-events/%s", guildID, eventID), body, nil)
}

func (s *Session) EventSubscribers(ctx context.Context, guildID, eventID snowflake.ID) ([]Member, error) {
	var users []struct {
		User   User    `json:"user"`
		Member *Member `json:"member"`
	}
	err := s.doJSON(ctx, http.MethodGet,
		fmt.Sprintf("/guilds/%s/scheduled-events/%s/users?limit=100&with_member=true", guildID, eventID), nil, &users)
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(users))
	for _, u := range users {
		if u.Member != nil {
			m := *u.Member
			m.User = u.User
			members = append(members, m)
			continue
		}
		members = append(members, Member{User: u.User})
	}
	return members, nil
}

// PrimeMessages seeds the recent-message cache of a channel from the REST
// API. Called once at startup for the wanted channel so initial-game
// resolution has history to look at before the gateway delivers anything.
func (s *Session) PrimeMessages(ctx context.Context, channelID snowflake.ID) error {
	var messages []Message
	err := s.doJSON(ctx, http.MethodGet, fmt.Sprintf("/channels/%s/messages?limit=100", channelID), nil, &messages)
	if err != nil {
		return err
	}
	// the endpoint returns newest first, the cache wants oldest first
	for i := len(messages) - 1; i >= 0; i-- {
		s.cacheMessage(messages[i])
	}
	return nil
}
