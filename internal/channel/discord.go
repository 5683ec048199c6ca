package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/joebot/utilbot/internal/bus"
	"github.com/joebot/utilbot/internal/config"
	"github.com/joebot/utilbot/internal/juxtapose"
	"github.com/joebot/utilbot/internal/preview"
)

const discordName = "discord"

// DiscordOptions selects the features a Discord channel serves.
type DiscordOptions struct {
	// Command answers /juxtapose. Nil leaves the command unregistered.
	Command *juxtapose.Command
	// Inbound publishes guild messages to the bus for file previews.
	Inbound bool
}

// Discord connects the bot to Discord through a discordgo session. The
// gateway is only opened by Start; REST lookups work without it.
type Discord struct {
	config  config.DiscordConfig
	bus     *bus.MessageBus
	session *discordgo.Session
	opts    DiscordOptions

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	selfID  string
	removes []func()
}

// NewDiscord creates a new Discord channel.
func NewDiscord(cfg config.DiscordConfig, b *bus.MessageBus, opts DiscordOptions) (*Discord, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord bot token not configured")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.Intent(cfg.Intents)
	session.Client = &http.Client{Timeout: 30 * time.Second}
	return &Discord{
		config:  cfg,
		bus:     b,
		session: session,
		opts:    opts,
	}, nil
}

func (d *Discord) Name() string { return discordName }

// Start opens the gateway and serves events until ctx is cancelled.
// discordgo reconnects on its own after transient disconnects.
func (d *Discord) Start(ctx context.Context) error {
	d.mu.Lock()
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.removes = []func(){
		d.session.AddHandler(d.onReady),
		d.session.AddHandler(d.onMessageCreate),
		d.session.AddHandler(d.onInteractionCreate),
	}
	runCtx := d.ctx
	d.mu.Unlock()

	slog.Info("connecting to discord gateway", "intents", d.config.Intents)
	if err := d.session.Open(); err != nil {
		d.Stop()
		return fmt.Errorf("open discord gateway: %w", err)
	}

	<-runCtx.Done()
	return d.Stop()
}

// Stop disconnects from Discord.
func (d *Discord) Stop() error {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	removes := d.removes
	d.removes = nil
	d.mu.Unlock()

	if len(removes) == 0 {
		return nil
	}
	for _, remove := range removes {
		remove()
	}
	return d.session.Close()
}

// LoadSelf looks up the bot's own user through REST. It is used when the
// gateway is not running, since the gateway reports the bot user on ready.
func (d *Discord) LoadSelf(ctx context.Context) error {
	u, err := d.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("look up bot user: %w", err)
	}
	d.setSelf(u.ID)
	return nil
}

// SelfID returns the bot's user ID, or "" before it is known.
func (d *Discord) SelfID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selfID
}

func (d *Discord) setSelf(id string) {
	d.mu.Lock()
	d.selfID = id
	d.mu.Unlock()
}

// lifetime returns the lifetime of the running gateway for event handlers.
func (d *Discord) lifetime() context.Context {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.ctx == nil {
		return context.Background()
	}
	return d.ctx
}

func (d *Discord) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	d.setSelf(r.User.ID)
	slog.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))

	if d.opts.Command == nil {
		return
	}
	appID := r.User.ID
	if r.Application != nil && r.Application.ID != "" {
		appID = r.Application.ID
	}
	commands := []*discordgo.ApplicationCommand{juxtapose.Definition()}
	if _, err := s.ApplicationCommandBulkOverwrite(appID, "", commands, discordgo.WithContext(d.lifetime())); err != nil {
		slog.Error("register application commands", "err", err)
		return
	}
	slog.Info("application commands registered", "count", len(commands))
}

func (d *Discord) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if !d.opts.Inbound || m.Message == nil || m.Author == nil {
		return
	}
	if m.Author.ID == "" || m.ChannelID == "" {
		return
	}
	if !d.config.IsAllowed(m.Author.ID) {
		return
	}

	timestamp := m.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	msg := &bus.InboundMessage{
		Channel:   discordName,
		SenderID:  m.Author.ID,
		ChatID:    m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Timestamp: timestamp,
		FromBot:   m.Author.Bot,
	}
	select {
	case d.bus.Inbound <- msg:
	case <-d.lifetime().Done():
	}
}

func (d *Discord) onInteractionCreate(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Interaction == nil {
		return
	}
	ctx := d.lifetime()

	switch ic.Type {
	case discordgo.InteractionApplicationCommand:
		d.handleCommand(ctx, s, ic.Interaction)
	case discordgo.InteractionMessageComponent:
		d.handleComponent(ctx, s, ic.Interaction)
	}
}

func (d *Discord) handleCommand(ctx context.Context, s *discordgo.Session, i *discordgo.Interaction) {
	data := i.ApplicationCommandData()
	if data.Name != juxtapose.CommandName || d.opts.Command == nil {
		return
	}

	req, err := juxtapose.RequestFromInteraction(i.ChannelID, data)
	if err != nil {
		slog.Warn("invalid juxtapose invocation", "user", interactionUser(i), "err", err)
		respondEphemeral(ctx, s, i, "That command invocation could not be understood.")
		return
	}

	start := time.Now()
	resp := &interactionResponder{session: s, interaction: i}
	if err := d.opts.Command.Run(ctx, resp, req); err != nil {
		slog.Warn("juxtapose failed", "user", interactionUser(i), "channel_id", i.ChannelID, "err", err)
		return
	}
	slog.Debug("juxtapose answered", "user", interactionUser(i), "elapsed", time.Since(start).Round(time.Millisecond))
}

// handleComponent deletes a file preview when the author of the previewed
// message presses its delete button. Presses by anyone else are
// acknowledged and ignored.
func (d *Discord) handleComponent(ctx context.Context, s *discordgo.Session, i *discordgo.Interaction) {
	authorID, ok := preview.ParseDeleteCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	ack := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	if err := s.InteractionRespond(i, ack, discordgo.WithContext(ctx)); err != nil {
		slog.Warn("acknowledge component", "err", err)
	}

	if !deleteAllowed(i, authorID) {
		return
	}
	if err := s.ChannelMessageDelete(i.ChannelID, i.Message.ID, discordgo.WithContext(ctx)); err != nil {
		slog.Warn("delete file preview", "channel_id", i.ChannelID, "message_id", i.Message.ID, "err", err)
	}
}

func deleteAllowed(i *discordgo.Interaction, authorID string) bool {
	return i.Message != nil && authorID != "" && interactionUser(i) == authorID
}

func interactionUser(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func respondEphemeral(ctx context.Context, s *discordgo.Session, i *discordgo.Interaction, content string) {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
	if err := s.InteractionRespond(i, resp, discordgo.WithContext(ctx)); err != nil {
		slog.Warn("respond to interaction", "err", err)
	}
}

// Send posts an outbound message through the REST API.
func (d *Discord) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if msg.ChatID == "" {
		return errors.New("discord: outbound message has no channel")
	}
	if _, err := d.session.ChannelMessageSendComplex(msg.ChatID, messageSend(msg), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}

// messageSend converts an outbound message. Mentions in the content are
// never resolved, and replies do not ping their target.
func messageSend(msg *bus.OutboundMessage) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content:         msg.Content,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
	if msg.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: msg.ChatID}
	}
	for _, f := range msg.Files {
		send.Files = append(send.Files, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      bytes.NewReader(f.Data),
		})
	}
	if len(msg.Buttons) > 0 {
		row := discordgo.ActionsRow{}
		for _, b := range msg.Buttons {
			row.Components = append(row.Components, button(b))
		}
		send.Components = []discordgo.MessageComponent{row}
	}
	return send
}

func button(b bus.Button) discordgo.Button {
	out := discordgo.Button{Label: b.Label, URL: b.URL, CustomID: b.CustomID}
	if b.URL != "" {
		out.Style = discordgo.LinkButton
	} else {
		out.Style = discordgo.SecondaryButton
	}
	if b.Emoji != "" {
		out.Emoji = &discordgo.ComponentEmoji{Name: b.Emoji}
	}
	return out
}
