package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/example/studybot/internal/ai"
	"github.com/example/studybot/internal/broadcast"
	"github.com/example/studybot/internal/logger"
	"github.com/example/studybot/internal/tasks"
	"github.com/example/studybot/internal/users"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLength is the Telegram limit for one text message
const maxMessageLength = 4096

// MenuButton represents a button in the menu
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard creates a keyboard from menu buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// TelegramAPI is the part of *tgbotapi.BotAPI the bot uses
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Solver answers study questions
type Solver interface {
	Complete(ctx context.Context, prompt, contextText string) (string, error)
}

// Recognizer extracts text from images
type Recognizer interface {
	Enabled() bool
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Fetcher downloads files sent to the bot
type Fetcher interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

// Deps are the collaborators of the bot
type Deps struct {
	API         TelegramAPI
	Directory   *users.Directory
	Quota       *users.Quota
	Subs        *users.Subscriptions
	Referrals   *users.Referrals
	Tasks       *tasks.Bank
	Broadcaster *broadcast.Broadcaster
	AI          Solver
	OCR         Recognizer
	Files       Fetcher
	Logger      *logger.Logger
}

// Bot represents the Telegram bot application
type Bot struct {
	api    TelegramAPI
	config *BotConfig

	dir         *users.Directory
	quota       *users.Quota
	subs        *users.Subscriptions
	referrals   *users.Referrals
	tasks       *tasks.Bank
	broadcaster *broadcast.Broadcaster
	ai          Solver
	ocr         Recognizer
	files       Fetcher
	log         *logger.Logger

	sessions *sessions
	wg       sync.WaitGroup
}

// New creates a new bot instance
func New(config *BotConfig, deps Deps) *Bot {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Tasks == nil {
		deps.Tasks = tasks.Default()
	}
	return &Bot{
		api:         deps.API,
		config:      config,
		dir:         deps.Directory,
		quota:       deps.Quota,
		subs:        deps.Subs,
		referrals:   deps.Referrals,
		tasks:       deps.Tasks,
		broadcaster: deps.Broadcaster,
		ai:          deps.AI,
		ocr:         deps.OCR,
		files:       deps.Files,
		log:         deps.Logger,
		sessions:    newSessions(),
	}
}

// Run receives updates until ctx is cancelled, then waits for the handlers
// still in flight
func (b *Bot) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = int(b.config.UpdateTimeout.Seconds())

	updates := b.api.GetUpdatesChan(updateConfig)
	b.log.Info().Msg("bot started")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info().Msg("bot stopping")
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("updates channel closed")
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

// handleUpdate handles incoming updates from Telegram
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("update handler panicked")
		}
	}()

	var err error
	switch {
	case update.PreCheckoutQuery != nil:
		err = b.handlePreCheckout(update.PreCheckoutQuery)
	case update.CallbackQuery != nil:
		err = b.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		err = b.handleMessage(ctx, update.Message)
	default:
		return
	}

	if err != nil {
		b.log.Error().Err(err).Int("update_id", update.UpdateID).Msg("failed to handle update")
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) error {
	userID := message.From.ID

	switch {
	case message.SuccessfulPayment != nil:
		return b.handleSuccessfulPayment(message)
	case message.IsCommand():
		return b.HandleCommand(ctx, message)
	case b.sessions.has(stateBroadcast, userID) && (message.Text != "" || len(message.Photo) > 0):
		return b.handleBroadcastMessage(ctx, message)
	case len(message.Photo) > 0:
		return b.handleMedia(ctx, message)
	default:
		return b.reply(message.Chat.ID, "Используйте /help для списка команд")
	}
}

// HandleCommand handles bot commands
func (b *Bot) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	if cmd, ok := aiCommands[message.Command()]; ok {
		return b.handleAICommand(ctx, message, cmd)
	}

	var err error
	switch message.Command() {
	case "start":
		err = b.handleStart(message)
	case "help":
		err = b.handleHelp(message)
	case "status":
		err = b.handleStatus(message)
	case "subject":
		err = b.handleSubject(message)
	case "gettask":
		err = b.handleGetTask(message)
	case "buy":
		err = b.handleBuy(message)
	case "confirm_payment":
		err = b.handleConfirmPayment(message)
	case "list", "broadcast", "cancel", "grant", "export":
		err = b.handleOwnerCommand(ctx, message)
	default:
		err = b.reply(message.Chat.ID, "Неизвестная команда. Используйте /help для списка команд")
	}
	return err
}

func (b *Bot) reply(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// replyLong splits text into messages Telegram accepts
func (b *Bot) replyLong(chatID int64, text string) error {
	for _, chunk := range chunkText(text, maxMessageLength) {
		if err := b.reply(chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// notifyOwners sends one message per owner. Failures are logged.
func (b *Bot) notifyOwners(build func(ownerID int64) tgbotapi.Chattable) {
	for _, owner := range b.config.OwnerIDs {
		if _, err := b.api.Send(build(owner)); err != nil {
			b.log.Error().Err(err).Int64("owner_id", owner).Msg("failed to notify owner")
		}
	}
}

// ensureUser registers the sender. A persistence failure is logged, the
// in-memory record is still usable.
func (b *Bot) ensureUser(from *tgbotapi.User) string {
	uid := userKey(from.ID)
	if err := b.dir.Ensure(uid, fullName(from), from.UserName); err != nil {
		b.log.Error().Err(err).Str("user_id", uid).Msg("failed to persist user")
	}
	return uid
}

func userKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// chunkText splits s into pieces of at most size runes
func chunkText(s string, size int) []string {
	runes := []rune(s)
	if len(runes) <= size {
		return []string{s}
	}

	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

type sessionState int

const (
	statePaymentScreenshot sessionState = iota
	stateBroadcast
)

// sessions keeps per-user conversation flags
type sessions struct {
	mu    sync.Mutex
	flags map[sessionState]map[int64]bool
}

func newSessions() *sessions {
	return &sessions{flags: make(map[sessionState]map[int64]bool)}
}

func (s *sessions) set(state sessionState, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags[state] == nil {
		s.flags[state] = make(map[int64]bool)
	}
	s.flags[state][userID] = true
}

func (s *sessions) has(state sessionState, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[state][userID]
}

// take clears the flag and reports whether it was set
func (s *sessions) take(state sessionState, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.flags[state][userID] {
		return false
	}
	delete(s.flags[state], userID)
	return true
}

func commandArgs(message *tgbotapi.Message) []string {
	return strings.Fields(message.CommandArguments())
}

func describeAIError(err error) string {
	if errors.Is(err, ai.ErrNotConfigured) {
		return "⚠️ OpenRouter API key не настроен."
	}
	return "⚠️ Не удалось связаться с ИИ."
}

func unexpectedCallback(data string) error {
	return fmt.Errorf("unexpected callback data %q", data)
}
