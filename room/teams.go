package room

import (
	"context"
	"math/rand"

	"github.com/hiyorigaoka/roomkeeper/discord"
)

// Team is one slice of a random team split.
type Team struct {
	Number  int
	Members []discord.Member
}

// SplitTeams shuffles the members and deals them into count teams. When the
// members do not divide evenly, the first teams get the extra member, so team
// sizes differ by at most one. The rand source is injected for deterministic
// tests.
func SplitTeams(members []discord.Member, count int, rng *rand.Rand) []Team {
	if count < 1 {
		count = 1
	}
	if count > len(members) && len(members) > 0 {
		count = len(members)
	}

	shuffled := append([]discord.Member(nil), members...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	teams := make([]Team, count)
	base := len(shuffled) / count
	extra := len(shuffled) % count
	offset := 0
	for i := range teams {
		size := base
		if i < extra {
			size++
		}
		teams[i] = Team{
			Number:  i + 1,
			Members: shuffled[offset : offset+size],
		}
		offset += size
	}
	return teams
}

// PickRandom draws n distinct members at random. n larger than the pool
// returns everyone, shuffled.
func PickRandom(members []discord.Member, n int, rng *rand.Rand) []discord.Member {
	if n <= 0 {
		return nil
	}
	shuffled := append([]discord.Member(nil), members...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

// SplitTeams splits the room's live members.
func (r *Room) SplitTeams(count int, rng *rand.Rand) []Team {
	return SplitTeams(r.Members(), count, rng)
}

// MoveTeams sends every team to its own voice channel: team 1 to the primary
// channel, team 2 to the first additional channel and so on, growing the
// channel list as needed. Moves are best effort per member.
func (r *Room) MoveTeams(ctx context.Context, teams []Team) (moved, failed int, err error) {
	if len(teams) > 1 {
		if _, err := r.SetAdditionalVoiceChannels(ctx, len(teams)-1); err != nil {
			return 0, 0, err
		}
	}
	results := make(chan bool)
	count := 0
	for i, team := range teams {
		for _, m := range team.Members {
			vs, ok := r.p.VoiceStateOf(r.guildID, m.User.ID)
			if !ok {
				failed++
				continue
			}
			count++
			go func(vs discord.VoiceState, index int) {
				results <- r.MoveMember(ctx, vs, index)
			}(vs, i)
		}
	}
	for i := 0; i < count; i++ {
		if <-results {
			moved++
		} else {
			failed++
		}
	}
	return moved, failed, nil
}

// PickRandom draws from the room's live members.
func (r *Room) PickRandom(n int, rng *rand.Rand) []discord.Member {
	return PickRandom(r.Members(), n, rng)
}
