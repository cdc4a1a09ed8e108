package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"remindbot/internal/remind"
	"remindbot/pkg/logx"
)

// Config is the platform slice of the bot configuration.
type Config struct {
	Token    string
	Presence string
	// SendRatePerSec caps outgoing channel messages. Discord enforces its
	// own limits too; this keeps a burst of simultaneous reminders polite.
	SendRatePerSec float64
}

// Adapter owns the gateway session and everything platform-specific:
// presence, message delivery, role membership. It implements remind.Sender.
type Adapter struct {
	sess    *discordgo.Session
	limiter *rate.Limiter
	log     logx.Logger
	cfg     Config
}

func NewAdapter(cfg Config, log logx.Logger) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	sess, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Adapter{
		sess:    sess,
		limiter: rate.NewLimiter(rate.Limit(rps), 3),
		log:     log,
		cfg:     cfg,
	}, nil
}

// Session exposes the raw session to the command layer.
func (a *Adapter) Session() *discordgo.Session { return a.sess }

// Start opens the gateway connection and sets the presence line.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open: %w", err)
	}
	presence := a.cfg.Presence
	if presence == "" {
		presence = "clist.by"
	}
	if err := a.sess.UpdateWatchStatus(0, presence); err != nil {
		a.log.Warn("presence update failed", logx.Err(err))
	}
	a.log.Info("gateway connected", logx.String("presence", presence))
	return nil
}

func (a *Adapter) Stop() error {
	return a.sess.Close()
}

// SendReminder posts one reminder to its configured channel, mentioning the
// reminder role. Sends are rate limited.
func (a *Adapter) SendReminder(ctx context.Context, r remind.Reminder) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	content := fmt.Sprintf("<@&%s> %s", r.RoleID, remind.ReminderText(r.Contests, r.Lead, r.Location))
	_, err := a.sess.ChannelMessageSendComplex(r.ChannelID, &discordgo.MessageSend{
		Content: content,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Roles: []string{r.RoleID},
		},
	})
	if err != nil {
		return fmt.Errorf("discord: send to %s: %w", r.ChannelID, err)
	}
	return nil
}

// ResolveDestination checks that a guild's configured channel and role still
// exist before reminders are armed for it. Prefers gateway state, falls back
// to the REST API when the cache misses.
func (a *Adapter) ResolveDestination(guildID, channelID, roleID string) error {
	ch, err := a.sess.State.Channel(channelID)
	if err != nil {
		ch, err = a.sess.Channel(channelID)
		if err != nil {
			return fmt.Errorf("discord: channel %s: %w", channelID, err)
		}
	}
	if ch.GuildID != guildID {
		return fmt.Errorf("discord: channel %s is not in guild %s", channelID, guildID)
	}

	if _, err := a.sess.State.Role(guildID, roleID); err == nil {
		return nil
	}
	roles, err := a.sess.GuildRoles(guildID)
	if err != nil {
		return fmt.Errorf("discord: guild %s roles: %w", guildID, err)
	}
	for _, r := range roles {
		if r.ID == roleID {
			return nil
		}
	}
	return fmt.Errorf("discord: role %s not found in guild %s", roleID, guildID)
}

// HasReminderRole reports whether the user already carries the role.
func (a *Adapter) HasReminderRole(guildID, userID, roleID string) (bool, error) {
	m, err := a.sess.State.Member(guildID, userID)
	if err != nil {
		m, err = a.sess.GuildMember(guildID, userID)
		if err != nil {
			return false, fmt.Errorf("discord: member %s: %w", userID, err)
		}
	}
	for _, r := range m.Roles {
		if r == roleID {
			return true, nil
		}
	}
	return false, nil
}

// AddReminderRole puts the user on the guild's reminder role.
func (a *Adapter) AddReminderRole(guildID, userID, roleID string) error {
	if err := a.sess.GuildMemberRoleAdd(guildID, userID, roleID); err != nil {
		return fmt.Errorf("discord: add role: %w", err)
	}
	return nil
}

// RemoveReminderRole takes the user off the guild's reminder role.
func (a *Adapter) RemoveReminderRole(guildID, userID, roleID string) error {
	if err := a.sess.GuildMemberRoleRemove(guildID, userID, roleID); err != nil {
		return fmt.Errorf("discord: remove role: %w", err)
	}
	return nil
}
