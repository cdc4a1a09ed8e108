package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"remindbot/internal/contest"
	"remindbot/internal/remind"
	"remindbot/internal/settings"
	"remindbot/pkg/logx"
)

const commandTimeout = 10 * time.Second

// Commands is the slash-command surface. Every handler translates one
// interaction into a remind.Service call and renders the result.
type Commands struct {
	svc *remind.Service
	ad  *Adapter
	log logx.Logger

	created []*discordgo.ApplicationCommand
	remove  func()
}

func NewCommands(svc *remind.Service, ad *Adapter, log logx.Logger) *Commands {
	return &Commands{svc: svc, ad: ad, log: log}
}

func definitions() []*discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageServer)
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "setreminder",
			Description:              "Configure contest reminders for this server",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Channel reminders are posted to", Required: true},
				{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role mentioned in reminders", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "before", Description: "Lead times in minutes, e.g. \"60 10\"", Required: true},
			},
		},
		{Name: "settings", Description: "Show this server's reminder settings"},
		{
			Name:                     "clearsettings",
			Description:              "Remove this server's reminder settings",
			DefaultMemberPermissions: &manageGuild,
		},
		{
			Name:                     "timezone",
			Description:              "Set the timezone reminder times are shown in",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "zone", Description: "tz database name, e.g. Europe/Berlin", Required: true},
			},
		},
		{
			Name:        "contests",
			Description: "List tracked contests",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "phase", Description: "Which contests to list",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "future", Value: "future"},
						{Name: "active", Value: "active"},
						{Name: "finished", Value: "finished"},
					},
				},
			},
		},
		{
			Name:                     "subscribe",
			Description:              "Get reminders for every contest from the given websites",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "websites", Description: "Website names, space separated", Required: true},
			},
		},
		{
			Name:                     "unsubscribe",
			Description:              "Stop reminders for every contest from the given websites",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "websites", Description: "Website names, space separated", Required: true},
			},
		},
		{
			Name:                     "resetfilters",
			Description:              "Restore the default contest filters",
			DefaultMemberPermissions: &manageGuild,
		},
		{Name: "websites", Description: "List websites contests are tracked from"},
		{Name: "remindme", Description: "Join the reminder role"},
		{Name: "unremindme", Description: "Leave the reminder role"},
	}
}

// Register creates the global slash commands and installs the interaction
// handler. Call after the gateway session is open.
func (c *Commands) Register() error {
	sess := c.ad.Session()
	appID := sess.State.User.ID
	for _, def := range definitions() {
		cmd, err := sess.ApplicationCommandCreate(appID, "", def)
		if err != nil {
			return fmt.Errorf("discord: create command %s: %w", def.Name, err)
		}
		c.created = append(c.created, cmd)
	}
	c.remove = sess.AddHandler(c.handle)
	c.log.Info("commands registered", logx.Int("count", len(c.created)))
	return nil
}

// Unregister removes the interaction handler and deletes the commands.
func (c *Commands) Unregister() {
	if c.remove != nil {
		c.remove()
	}
	sess := c.ad.Session()
	for _, cmd := range c.created {
		if err := sess.ApplicationCommandDelete(cmd.ApplicationID, "", cmd.ID); err != nil {
			c.log.Warn("command delete failed", logx.String("name", cmd.Name), logx.Err(err))
		}
	}
	c.created = nil
}

func (c *Commands) handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" {
		c.respond(s, i, "Reminders only work inside a server.", true)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	data := i.ApplicationCommandData()
	opts := optionMap(data.Options)

	var reply string
	var err error
	switch data.Name {
	case "setreminder":
		reply, err = c.setReminder(ctx, i, opts)
	case "settings":
		reply, err = c.showSettings(i)
	case "clearsettings":
		err = c.svc.Clear(ctx, i.GuildID)
		reply = "Reminder settings cleared."
	case "timezone":
		reply, err = c.setTimezone(ctx, i, opts)
	case "contests":
		reply = c.listContests(i, opts)
	case "subscribe":
		reply, err = c.subscribe(ctx, i, opts, true)
	case "unsubscribe":
		reply, err = c.subscribe(ctx, i, opts, false)
	case "resetfilters":
		_, err = c.svc.ResetPatterns(ctx, i.GuildID)
		reply = "Contest filters restored to defaults."
	case "websites":
		reply = "Tracked websites:\n" + strings.Join(contest.SupportedWebsites(), "\n")
	case "remindme":
		reply, err = c.memberRole(i, true)
	case "unremindme":
		reply, err = c.memberRole(i, false)
	default:
		return
	}
	if err != nil {
		c.log.Debug("command failed",
			logx.String("command", data.Name),
			logx.String("guild", i.GuildID),
			logx.Err(err))
		reply = userMessage(err)
	}
	c.respond(s, i, reply, err != nil)
}

func (c *Commands) setReminder(ctx context.Context, i *discordgo.InteractionCreate, opts options) (string, error) {
	channel := opts.channel("channel")
	role := opts.role("role")
	if channel == "" || role == "" {
		return "", settings.ErrNotConfigured
	}
	before, err := parseLeadTimes(opts.str("before"))
	if err != nil {
		return "", err
	}
	g, err := c.svc.Configure(ctx, i.GuildID, channel, role, before)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminders set: <#%s>, <@&%s>, %s before start.",
		g.ChannelID, g.RoleID, minutesList(g.Before)), nil
}

func (c *Commands) showSettings(i *discordgo.InteractionCreate) (string, error) {
	g, err := c.svc.Settings(i.GuildID)
	if err != nil {
		return "", err
	}
	if !g.Configured() {
		return "Reminders are not configured yet. Use /setreminder.", nil
	}
	return fmt.Sprintf("Channel: <#%s>\nRole: <@&%s>\nLead times: %s\nTimezone: %s",
		g.ChannelID, g.RoleID, minutesList(g.Before), g.Timezone), nil
}

func (c *Commands) setTimezone(ctx context.Context, i *discordgo.InteractionCreate, opts options) (string, error) {
	g, err := c.svc.SetTimezone(ctx, i.GuildID, opts.str("zone"))
	if err != nil {
		return "", err
	}
	return "Timezone set to " + g.Timezone + ".", nil
}

func (c *Commands) listContests(i *discordgo.InteractionCreate, opts options) string {
	phase := opts.str("phase")
	if phase == "" {
		phase = "future"
	}
	cls := c.svc.Contests(i.GuildID)
	var bucket []contest.Contest
	switch phase {
	case "active":
		bucket = cls.Active
	case "finished":
		bucket = cls.Finished
	default:
		bucket = cls.Future
	}
	if len(bucket) == 0 {
		return "No " + phase + " contests."
	}

	loc := time.UTC
	if g, err := c.svc.Settings(i.GuildID); err == nil {
		if l, lerr := time.LoadLocation(g.Timezone); lerr == nil {
			loc = l
		}
	}
	const maxRows = 15
	shown := bucket
	if len(shown) > maxRows {
		shown = shown[:maxRows]
	}
	rows := remind.ListingRows(shown, loc)
	body := strings.Join(rows, "\n")
	// Discord caps messages at 2000 characters.
	if len(body) > 1900 {
		body = clip(body, 1900) + "\n..."
	}
	out := "```\n" + body + "\n```"
	if rest := len(bucket) - len(shown); rest > 0 {
		out += fmt.Sprintf("and %d more", rest)
	}
	return out
}

func (c *Commands) subscribe(ctx context.Context, i *discordgo.InteractionCreate, opts options, on bool) (string, error) {
	sites := strings.Fields(opts.str("websites"))
	var accepted, rejected []string
	var err error
	if on {
		accepted, rejected, err = c.svc.Subscribe(ctx, i.GuildID, sites)
	} else {
		accepted, rejected, err = c.svc.Unsubscribe(ctx, i.GuildID, sites)
	}
	if err != nil {
		return "", err
	}
	var b strings.Builder
	verb := "Subscribed to"
	if !on {
		verb = "Unsubscribed from"
	}
	if len(accepted) > 0 {
		fmt.Fprintf(&b, "%s: %s.", verb, strings.Join(accepted, ", "))
	}
	if len(rejected) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Not tracked: %s. See /websites.", strings.Join(rejected, ", "))
	}
	return b.String(), nil
}

func (c *Commands) memberRole(i *discordgo.InteractionCreate, join bool) (string, error) {
	g, err := c.svc.Settings(i.GuildID)
	if err != nil {
		return "", err
	}
	if !g.Configured() {
		return "", settings.ErrNotConfigured
	}
	userID := i.Member.User.ID
	has, err := c.ad.HasReminderRole(i.GuildID, userID, g.RoleID)
	if err != nil {
		return "", err
	}
	if join {
		if has {
			return "You are already on the reminder role.", nil
		}
		if err := c.ad.AddReminderRole(i.GuildID, userID, g.RoleID); err != nil {
			return "", err
		}
		return "You will be pinged for contest reminders.", nil
	}
	if !has {
		return "You are not on the reminder role.", nil
	}
	if err := c.ad.RemoveReminderRole(i.GuildID, userID, g.RoleID); err != nil {
		return "", err
	}
	return "You will no longer be pinged for contest reminders.", nil
}

func (c *Commands) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	if content == "" {
		content = "Done."
	}
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		c.log.Warn("interaction respond failed", logx.Err(err))
	}
}

// userMessage maps service errors to something worth showing a person.
func userMessage(err error) string {
	switch {
	case errors.Is(err, settings.ErrNotConfigured):
		return "Reminders are not configured yet. Use /setreminder."
	case errors.Is(err, settings.ErrInvalidTimezone):
		return "That timezone is not in the tz database. Try e.g. Europe/Berlin."
	case errors.Is(err, settings.ErrInvalidLeadTime):
		return "Lead times must be positive minutes, e.g. \"60 10\"."
	default:
		return "Something went wrong, try again."
	}
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (o options) str(name string) string {
	if opt, ok := o[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (o options) channel(name string) string {
	if opt, ok := o[name]; ok {
		return opt.Value.(string)
	}
	return ""
}

func (o options) role(name string) string {
	if opt, ok := o[name]; ok {
		return opt.Value.(string)
	}
	return ""
}

// parseLeadTimes accepts space or comma separated minute counts.
// clip truncates s to at most max bytes, backing up so a multi-byte rune is
// never split.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func parseLeadTimes(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) == 0 {
		return nil, settings.ErrInvalidLeadTime
	}
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: %q", settings.ErrInvalidLeadTime, f)
		}
		out = append(out, n)
	}
	return out, nil
}

func minutesList(mins []int) string {
	parts := make([]string, len(mins))
	for i, m := range mins {
		parts[i] = strconv.Itoa(m)
	}
	return strings.Join(parts, ", ") + " mins"
}
