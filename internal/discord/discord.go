package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ent0n29/reysq/internal/policy"
	"github.com/ent0n29/reysq/internal/transport"
)

const (
	// Channel is the transport channel name for Discord turns.
	Channel = "discord"
	// UserPrefix namespaces Discord user ids in memory.
	UserPrefix = "discord:"

	chunkLimit   = 1900
	sendTimeout  = 10 * time.Second
	maxMediaSize = 16 << 20
)

// Handler receives normalized direct messages.
type Handler func(ctx context.Context, in transport.Inbound)

type Config struct {
	Token     string
	AllowFrom []string
	Logger    *slog.Logger
}

// sender is the part of *discordgo.Session used for replies.
type sender interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelFileSend(channelID, name string, r io.Reader, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot bridges Discord direct messages to the companion.
type Bot struct {
	session *discordgo.Session
	send    sender
	allow   map[string]struct{}
	logger  *slog.Logger
	http    *http.Client

	mu       sync.Mutex
	dmByUser map[string]string
	handler  Handler
	ctx      context.Context
}

func New(cfg Config) (*Bot, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsDirectMessages
	b := newBot(session, cfg)
	b.session = session
	return b, nil
}

func newBot(send sender, cfg Config) *Bot {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	allow := make(map[string]struct{}, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		if id = strings.TrimPrefix(strings.TrimSpace(id), UserPrefix); id != "" {
			allow[id] = struct{}{}
		}
	}
	return &Bot{
		send:     send,
		allow:    allow,
		logger:   logger.With("component", "discord"),
		http:     &http.Client{Timeout: 30 * time.Second},
		dmByUser: make(map[string]string),
	}
}

// Start opens the gateway connection and forwards direct messages to h
// until ctx is done.
func (b *Bot) Start(ctx context.Context, h Handler) error {
	if b.session == nil {
		return errors.New("discord session not configured")
	}
	b.mu.Lock()
	b.handler = h
	b.ctx = ctx
	b.mu.Unlock()

	b.session.AddHandler(b.onMessageCreate)
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	b.logger.Info("discord bot connected", "allowlist", len(b.allow))
	return nil
}

func (b *Bot) Stop() error {
	if b.session == nil {
		return nil
	}
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	in, ok := NormalizeMessage(m, botID)
	if !ok {
		return
	}
	b.dispatch(in, m.ChannelID)
}

func (b *Bot) dispatch(in transport.Inbound, channelID string) {
	rawID := strings.TrimPrefix(in.UserID, UserPrefix)
	if !b.allowed(rawID) {
		b.logger.Debug("message rejected by allowlist", "user_id", policy.MaskUserID(in.UserID))
		return
	}

	b.mu.Lock()
	b.dmByUser[rawID] = channelID
	h, ctx := b.handler, b.ctx
	b.mu.Unlock()
	if h == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h(ctx, in)
}

func (b *Bot) allowed(userID string) bool {
	if len(b.allow) == 0 {
		return true
	}
	_, ok := b.allow[userID]
	return ok
}

// NormalizeMessage converts a direct message into an inbound turn. Guild
// messages, bot messages and our own echoes are ignored.
func NormalizeMessage(m *discordgo.MessageCreate, botID string) (transport.Inbound, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return transport.Inbound{}, false
	}
	if m.GuildID != "" || m.Author.Bot || m.Author.ID == botID {
		return transport.Inbound{}, false
	}
	in := transport.Inbound{
		Channel:    Channel,
		UserID:     UserPrefix + m.Author.ID,
		MessageID:  m.ID,
		ReceivedAt: m.Timestamp.UTC(),
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		if isAudioAttachment(a) {
			in.Kind = transport.KindAudio
			in.MediaID = a.URL
			in.AudioMIME = a.ContentType
			return in, true
		}
	}
	switch {
	case strings.TrimSpace(m.Content) != "":
		in.Kind = transport.KindText
		in.Text = m.Content
	case len(m.Attachments) > 0:
		in.Kind = transport.KindUnsupported
	default:
		return transport.Inbound{}, false
	}
	return in, true
}

func isAudioAttachment(a *discordgo.MessageAttachment) bool {
	if strings.HasPrefix(strings.ToLower(a.ContentType), "audio/") {
		return true
	}
	switch strings.ToLower(path.Ext(a.Filename)) {
	case ".ogg", ".oga", ".mp3", ".m4a", ".wav", ".webm":
		return true
	}
	return false
}

// Deliver sends the reply to the user's DM channel in chunks Discord
// accepts, followed by the voice clip when present.
func (b *Bot) Deliver(ctx context.Context, reply transport.Reply) error {
	userID := strings.TrimPrefix(strings.TrimSpace(reply.UserID), UserPrefix)
	if userID == "" {
		return fmt.Errorf("%w: empty recipient", transport.ErrDelivery)
	}
	channelID, err := b.dmChannel(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrDelivery, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	for _, chunk := range transport.SplitMessage(reply.Text, chunkLimit) {
		if _, err := b.send.ChannelMessageSend(channelID, chunk, discordgo.WithContext(sendCtx)); err != nil {
			return fmt.Errorf("%w: send discord message: %w", transport.ErrDelivery, err)
		}
	}
	if reply.Audio != nil && len(reply.Audio.Data) > 0 {
		name := "reply" + audioExtension(reply.Audio.MIMEType)
		if _, err := b.send.ChannelFileSend(channelID, name, bytes.NewReader(reply.Audio.Data), discordgo.WithContext(sendCtx)); err != nil {
			return fmt.Errorf("%w: send discord voice clip: %w", transport.ErrDelivery, err)
		}
	}
	return nil
}

func (b *Bot) dmChannel(ctx context.Context, userID string) (string, error) {
	b.mu.Lock()
	id, ok := b.dmByUser[userID]
	b.mu.Unlock()
	if ok && id != "" {
		return id, nil
	}
	ch, err := b.send.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("open dm channel: %w", err)
	}
	b.mu.Lock()
	b.dmByUser[userID] = ch.ID
	b.mu.Unlock()
	return ch.ID, nil
}

// FetchMedia downloads an attachment. Discord media ids are the attachment
// CDN URLs.
func (b *Bot) FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build attachment request: %w", err)
	}
	res, err := b.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download attachment: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download attachment: http status %d", res.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxMediaSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > maxMediaSize {
		return nil, "", fmt.Errorf("attachment exceeds %d bytes", maxMediaSize)
	}
	return data, res.Header.Get("Content-Type"), nil
}

func audioExtension(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/mpeg"):
		return ".mp3"
	case strings.HasPrefix(mimeType, "audio/wav"):
		return ".wav"
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return ".ogg"
	default:
		return ".bin"
	}
}
