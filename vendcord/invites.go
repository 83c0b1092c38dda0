package vendcord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// cachedInvite is the last-seen state of one guild invite, kept so member
// joins can be attributed by diffing use counts.
type cachedInvite struct {
	code      string
	uses      int
	inviterID string
}

// inviteTracker attributes guild joins to inviters. Discord doesn't say
// which invite a member used, so the tracker caches every invite's use
// count and, on each join, finds the invite whose count went up.
//
// Attribution is best-effort: vanity URLs and single-use invites that
// Discord deletes on use can't be diffed, and those joins go
// unattributed.
type inviteTracker struct {
	bot    *VendCord
	logger *slog.Logger

	mu     sync.Mutex
	guilds map[string]map[string]cachedInvite
}

func newInviteTracker(bot *VendCord) *inviteTracker {
	return &inviteTracker{
		bot:    bot,
		logger: bot.logger.With(loggerNameKey, "invite_tracker"),
		guilds: map[string]map[string]cachedInvite{},
	}
}

// refreshGuild replaces the cached invites for a guild with the current
// state from the API.
func (t *inviteTracker) refreshGuild(guildID string) error {
	invites, err := t.bot.discord.session.GuildInvites(guildID)
	if err != nil {
		return fmt.Errorf("error fetching invites for guild %s: %w", guildID, err)
	}

	cache := make(map[string]cachedInvite, len(invites))
	for _, invite := range invites {
		c := cachedInvite{code: invite.Code, uses: invite.Uses}
		if invite.Inviter != nil {
			c.inviterID = invite.Inviter.ID
		}
		cache[invite.Code] = c
	}

	t.mu.Lock()
	t.guilds[guildID] = cache
	t.mu.Unlock()

	t.logger.Debug(
		"refreshed invite cache",
		"guild_id", guildID,
		"invites", len(cache),
	)
	return nil
}

func (t *inviteTracker) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		for _, guild := range r.Guilds {
			if err := t.refreshGuild(guild.ID); err != nil {
				t.logger.Warn("invite cache refresh failed", tint.Err(err))
			}
		}
	}
}

func (t *inviteTracker) handlerInviteCreate() func(
	s *discordgo.Session,
	ic *discordgo.InviteCreate,
) {
	return func(s *discordgo.Session, ic *discordgo.InviteCreate) {
		c := cachedInvite{code: ic.Code, uses: ic.Uses}
		if ic.Inviter != nil {
			c.inviterID = ic.Inviter.ID
		}
		t.mu.Lock()
		cache, ok := t.guilds[ic.GuildID]
		if !ok {
			cache = map[string]cachedInvite{}
			t.guilds[ic.GuildID] = cache
		}
		cache[ic.Code] = c
		t.mu.Unlock()
	}
}

func (t *inviteTracker) handlerInviteDelete() func(
	s *discordgo.Session,
	id *discordgo.InviteDelete,
) {
	return func(s *discordgo.Session, id *discordgo.InviteDelete) {
		t.mu.Lock()
		if cache, ok := t.guilds[id.GuildID]; ok {
			delete(cache, id.Code)
		}
		t.mu.Unlock()
	}
}

// handlerGuildMemberAdd attributes a join to an inviter by diffing invite
// use counts, and updates that inviter's counters. Accounts younger than
// the configured fake age count as fake instead of valid.
func (t *inviteTracker) handlerGuildMemberAdd() func(
	s *discordgo.Session,
	m *discordgo.GuildMemberAdd,
) {
	return func(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.User == nil || m.User.Bot {
			return
		}
		ctx := WithLogger(context.Background(), t.logger)

		inviterID, found := t.findUsedInvite(m.GuildID)
		if !found {
			t.logger.InfoContext(
				ctx,
				"join not attributed (vanity or expired invite)",
				"guild_id", m.GuildID,
				"user_id", m.User.ID,
			)
			return
		}

		fake := false
		if created, err := discordgo.SnowflakeTimestamp(m.User.ID); err == nil {
			fake = time.Since(created) < t.bot.config.Discord.InviteFakeAge
		}

		if err := t.recordJoin(ctx, m.GuildID, inviterID, m.User.ID, fake); err != nil {
			t.logger.ErrorContext(ctx, "error recording join", tint.Err(err))
		}
	}
}

// findUsedInvite fetches the guild's current invites, diffs them against
// the cache, and returns the inviter whose invite gained a use.
func (t *inviteTracker) findUsedInvite(guildID string) (inviterID string, found bool) {
	invites, err := t.bot.discord.session.GuildInvites(guildID)
	if err != nil {
		t.logger.Warn("error fetching invites", tint.Err(err), "guild_id", guildID)
		return "", false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cache, ok := t.guilds[guildID]
	if !ok {
		cache = map[string]cachedInvite{}
		t.guilds[guildID] = cache
	}

	for _, invite := range invites {
		prev, seen := cache[invite.Code]
		if (seen && invite.Uses > prev.uses) || (!seen && invite.Uses > 0) {
			if invite.Inviter != nil {
				inviterID = invite.Inviter.ID
			} else if seen {
				inviterID = prev.inviterID
			}
			found = inviterID != ""
		}

		c := cachedInvite{code: invite.Code, uses: invite.Uses}
		if invite.Inviter != nil {
			c.inviterID = invite.Inviter.ID
		} else if seen {
			c.inviterID = prev.inviterID
		}
		cache[invite.Code] = c
	}

	return inviterID, found
}

// recordJoin upserts the inviter's counters for the guild and records the
// member for later leave bookkeeping.
func (t *inviteTracker) recordJoin(
	ctx context.Context,
	guildID string,
	inviterID string,
	memberID string,
	fake bool,
) error {
	return t.bot.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			var stats InviteStats
			err := tx.Where(
				"guild_id = ? AND inviter_id = ?", guildID, inviterID,
			).Take(&stats).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			stats.GuildID = guildID
			stats.InviterID = inviterID
			stats.Total++
			if fake {
				stats.Fake++
			} else {
				stats.Valid++
			}
			members := splitInvitedMembers(stats.InvitedMembers)
			members = append(members, memberID)
			stats.InvitedMembers = strings.Join(members, recordSeparator)
			return tx.Save(&stats).Error
		},
	)
}

func (t *inviteTracker) handlerGuildMemberRemove() func(
	s *discordgo.Session,
	m *discordgo.GuildMemberRemove,
) {
	return func(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
		if m.User == nil || m.User.Bot {
			return
		}
		ctx := WithLogger(context.Background(), t.logger)
		if err := t.recordLeave(ctx, m.GuildID, m.User.ID); err != nil {
			t.logger.ErrorContext(ctx, "error recording leave", tint.Err(err))
		}
	}
}

// recordLeave finds the inviter the departing member was attributed to
// and moves them from valid to left. Unattributed members are ignored.
func (t *inviteTracker) recordLeave(
	ctx context.Context,
	guildID string,
	memberID string,
) error {
	return t.bot.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			var candidates []InviteStats
			err := tx.Where(
				"guild_id = ? AND invited_members LIKE ?",
				guildID,
				"%"+memberID+"%",
			).Find(&candidates).Error
			if err != nil {
				return err
			}

			for idx := range candidates {
				stats := &candidates[idx]
				members := splitInvitedMembers(stats.InvitedMembers)
				remaining := make([]string, 0, len(members))
				matched := false
				for _, member := range members {
					if member == memberID && !matched {
						matched = true
						continue
					}
					remaining = append(remaining, member)
				}
				if !matched {
					continue
				}
				stats.Left++
				if stats.Valid > 0 {
					stats.Valid--
				}
				stats.InvitedMembers = strings.Join(remaining, recordSeparator)
				if saveErr := tx.Save(stats).Error; saveErr != nil {
					return saveErr
				}
				return nil
			}
			return nil
		},
	)
}

// Stats returns the invite counters for an inviter in a guild, or a zero
// record when the inviter has none.
func (t *inviteTracker) Stats(
	ctx context.Context,
	guildID string,
	inviterID string,
) (*InviteStats, error) {
	var stats InviteStats
	err := t.bot.db.WithContext(ctx).Where(
		"guild_id = ? AND inviter_id = ?", guildID, inviterID,
	).Take(&stats).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &InviteStats{GuildID: guildID, InviterID: inviterID}, nil
		}
		return nil, fmt.Errorf("error loading invite stats: %w", err)
	}
	return &stats, nil
}

func splitInvitedMembers(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, recordSeparator)
}

// handleInvites handles the `/invites` slash command, showing a user's
// invite counters for the current guild.
func (v *VendCord) handleInvites(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	if i.GuildID == "" {
		v.respondEphemeral(ctx, handler, "This command only works in a server.")
		return
	}

	target := getDiscordUser(i)
	if opt, ok := discordInteractionOptions(i)[commandOptionUser]; ok {
		if resolved, resolvedOK := i.ApplicationCommandData().
			Resolved.Users[opt.Value.(string)]; resolvedOK {
			target = resolved
		}
	}

	stats, err := v.invites.Stats(ctx, i.GuildID, target.ID)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error loading invite stats", tint.Err(err))
		v.respondEphemeral(ctx, handler, v.config.Discord.ErrorMessage)
		return
	}

	handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{
					{
						Title: "Invites",
						Color: v.config.Branding.Color,
						Description: fmt.Sprintf(
							"<@%s> has **%d** invite(s)", target.ID, stats.Valid,
						),
						Fields: []*discordgo.MessageEmbedField{
							{Name: "Total", Value: fmt.Sprint(stats.Total), Inline: true},
							{Name: "Valid", Value: fmt.Sprint(stats.Valid), Inline: true},
							{Name: "Fake", Value: fmt.Sprint(stats.Fake), Inline: true},
							{Name: "Left", Value: fmt.Sprint(stats.Left), Inline: true},
						},
						Footer: &discordgo.MessageEmbedFooter{
							Text: v.config.Branding.Footer,
						},
					},
				},
			},
		},
	)
}
