// Package bot is the Telegram surface of perch.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
	"perch/internal/links"
	"perch/internal/render"
)

// LinkService is the subset of the link service the bot drives.
type LinkService interface {
	List(ctx context.Context, owner int64) ([]domain.SavedLink, error)
	Save(ctx context.Context, owner int64, raw string) (domain.SavedLink, error)
	Delete(ctx context.Context, owner int64, raw string) error
	SetCredential(ctx context.Context, owner int64, credential string) error
	Credential(ctx context.Context, owner int64) (string, error)
	ClearCredential(ctx context.Context, owner int64) error
	Sync(ctx context.Context, owner int64) (links.SyncResult, error)
}

type LinkRenderer interface {
	Links(ctx context.Context, credential string, links []domain.SavedLink) ([]render.LinkView, error)
}

const (
	welcomeMessage = "Welcome to perch! Send me a twitter.com or x.com post link and I'll keep it, " +
		"its text and its media for you.\n\n" +
		"/key <api key> - set your post lookup API key\n" +
		"/forget - remove your API key\n" +
		"/list - show saved posts\n" +
		"/sync - merge your links with the cloud copy\n" +
		"/delete <url> - forget a saved post"
	slowDownMessage = "You're going a bit fast, try again in a few seconds."
	listLimit       = 30
	snippetLength   = 100
)

// Handler holds dependencies for the Telegram bot handlers.
type Handler struct {
	bot      *tgbot.Bot
	links    LinkService
	renderer LinkRenderer
	limiter  Limiter
	log      logrus.FieldLogger
}

// NewHandler creates the bot and registers its command handlers.
func NewHandler(token string, svc LinkService, renderer LinkRenderer, limiter Limiter, logger logrus.FieldLogger) (*Handler, error) {
	log := logger.WithField("component", "bot_handler")

	h := &Handler{
		links:    svc,
		renderer: renderer,
		limiter:  limiter,
		log:      log,
	}

	b, err := tgbot.New(token, tgbot.WithDefaultHandler(h.defaultHandler))
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	h.bot = b
	h.registerHandlers()

	log.Info("Telegram bot handler initialized")
	return h, nil
}

func (h *Handler) registerHandlers() {
	for _, cmd := range []string{"/start", "/key", "/forget", "/list", "/sync", "/delete"} {
		h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, cmd, tgbot.MatchTypePrefix, h.commandHandler)
	}
}

// Start polls for updates until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped.")
}

func (h *Handler) commandHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	h.handle(ctx, b, update)

	// Keys should not linger in the chat history.
	if update.Message != nil && isKeyMessage(update.Message.Text) {
		_, err := b.DeleteMessage(ctx, &tgbot.DeleteMessageParams{
			ChatID:    update.Message.Chat.ID,
			MessageID: update.Message.ID,
		})
		if err != nil {
			h.log.WithError(err).Debug("Failed to delete key message")
		}
	}
}

func (h *Handler) defaultHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	h.handle(ctx, b, update)
}

func (h *Handler) handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	text := h.reply(ctx, update.Message.From.ID, update.Message.Text)
	if text == "" {
		return
	}
	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: tgbot.True(),
		},
	})
	if err != nil {
		h.log.WithError(err).WithField("user_id", update.Message.From.ID).Error("Failed to send reply")
	}
}

// reply computes the answer to one message from userID.
func (h *Handler) reply(ctx context.Context, userID int64, text string) string {
	text = strings.TrimSpace(text)
	cmd, arg := splitCommand(text)

	log := h.log.WithFields(logrus.Fields{"user_id": userID, "command": cmd})

	if h.limiter != nil && !h.limiter.Allow(userID) {
		log.Debug("Rate limited")
		return slowDownMessage
	}

	switch cmd {
	case "/start":
		return welcomeMessage
	case "/key":
		return h.setKey(ctx, userID, arg)
	case "/forget":
		return h.forget(ctx, userID)
	case "/list":
		return h.list(ctx, userID)
	case "/sync":
		return h.sync(ctx, userID)
	case "/delete":
		return h.remove(ctx, userID, arg)
	}
	return h.save(ctx, userID, text)
}

// splitCommand returns the command word of text without a bot suffix
// ("/list@perchbot" in groups) and the trimmed rest.
func splitCommand(text string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd, strings.TrimSpace(arg)
}

func isKeyMessage(text string) bool {
	cmd, _ := splitCommand(text)
	return cmd == "/key"
}

func (h *Handler) setKey(ctx context.Context, userID int64, key string) string {
	if key == "" {
		return "Usage: /key <api key>"
	}
	err := h.links.SetCredential(ctx, userID, key)
	switch {
	case errors.Is(err, domain.ErrInvalidCredential):
		return "That API key was rejected. Please check it and try again."
	case err != nil:
		h.log.WithError(err).WithField("user_id", userID).Error("Failed to store credential")
		return "Could not store your API key, please try again later."
	}
	return "API key saved. Use /sync to pull links saved on your other devices."
}

func (h *Handler) forget(ctx context.Context, userID int64) string {
	if err := h.links.ClearCredential(ctx, userID); err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("Failed to clear credential")
		return "Could not remove your API key, please try again later."
	}
	return "API key removed. Your saved posts stay; set a new key with /key."
}

func (h *Handler) list(ctx context.Context, userID int64) string {
	items, err := h.links.List(ctx, userID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("Failed to list links")
		return "Could not load your links, please try again later."
	}
	if len(items) == 0 {
		return "You have no saved posts yet. Send me a post link to save it."
	}

	shown := items
	if len(shown) > listLimit {
		shown = shown[len(shown)-listLimit:]
	}
	credential, _ := h.links.Credential(ctx, userID)
	views, err := h.renderer.Links(ctx, credential, shown)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("Failed to render links")
		return "Could not load your links, please try again later."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Saved posts (%d):\n", len(items))
	for i, v := range views {
		fmt.Fprintf(&b, "\n%d. %s\n   %s", i+1, summary(v), v.Link.URL)
	}
	return b.String()
}

func summary(v render.LinkView) string {
	switch {
	case v.Post == nil:
		return "(loading…)"
	case v.Post.Failed():
		return "(could not load: " + v.Post.Error + ")"
	}
	text := strings.Join(strings.Fields(v.Post.Text), " ")
	if r := []rune(text); len(r) > snippetLength {
		text = string(r[:snippetLength]) + "…"
	}
	if len(v.Media) > 0 {
		text += fmt.Sprintf(" [%d media]", len(v.Media))
	}
	if v.Post.Author.Handle != "" {
		return "@" + v.Post.Author.Handle + ": " + text
	}
	return text
}

func (h *Handler) sync(ctx context.Context, userID int64) string {
	res, err := h.links.Sync(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrMissingCredential):
		return "Set your API key with /key first; it identifies your cloud copy."
	case err != nil:
		h.log.WithError(err).WithField("user_id", userID).Error("Sync failed")
		return "Sync failed, please try again later."
	}
	return fmt.Sprintf("Synced. %d saved posts, %d new from the cloud.", res.Total, res.Added)
}

func (h *Handler) remove(ctx context.Context, userID int64, raw string) string {
	if raw == "" {
		return "Usage: /delete <post url>"
	}
	err := h.links.Delete(ctx, userID, raw)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "That post is not in your list."
	case errors.Is(err, domain.ErrInvalidURL):
		return "That doesn't look like a post link."
	case err != nil:
		h.log.WithError(err).WithField("user_id", userID).Error("Delete failed")
		return "Could not delete the link, please try again later."
	}
	return "Deleted."
}

// save stores every post URL found in text.
func (h *Handler) save(ctx context.Context, userID int64, text string) string {
	var urls []string
	for _, word := range strings.Fields(text) {
		if domain.IsPostURL(word) {
			urls = append(urls, word)
		}
	}
	if len(urls) == 0 {
		return "Send me a twitter.com or x.com post link, or /start for help."
	}

	var replies []string
	for _, u := range urls {
		_, err := h.links.Save(ctx, userID, u)
		switch {
		case err == nil:
			replies = append(replies, "Saved "+u)
		case errors.Is(err, domain.ErrDuplicateLink):
			replies = append(replies, "Already saved: "+u)
		case errors.Is(err, domain.ErrInvalidURL):
			replies = append(replies, "Not a post link: "+u)
		default:
			h.log.WithError(err).WithField("user_id", userID).Error("Failed to save link")
			replies = append(replies, "Could not save "+u)
		}
	}
	return strings.Join(replies, "\n")
}
