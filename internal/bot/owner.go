package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/studybot/internal/excel"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// handleOwnerCommand gates the privileged commands
func (b *Bot) handleOwnerCommand(ctx context.Context, message *tgbotapi.Message) error {
	if !b.config.isOwner(message.From.ID) {
		b.log.Warn().Int64("user_id", message.From.ID).Str("command", message.Command()).Msg("owner command denied")
		return b.reply(message.Chat.ID, "⛔ Доступ только для учителей")
	}

	switch message.Command() {
	case "list":
		return b.handleList(message)
	case "broadcast":
		return b.handleBroadcast(message)
	case "cancel":
		return b.handleCancel(message)
	case "grant":
		return b.handleGrant(message)
	case "export":
		return b.handleExport(message)
	}
	return nil
}

func (b *Bot) handleList(message *tgbotapi.Message) error {
	entries := b.dir.All()
	if len(entries) == 0 {
		return b.reply(message.Chat.ID, "❌ Нет зарегистрированных пользователей")
	}

	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, "📝 Список пользователей:")
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("👤 %s (@%s) ID: %s", e.User.FullName, e.User.Username, e.ID))
	}
	return b.replyLong(message.Chat.ID, strings.Join(lines, "\n"))
}

func (b *Bot) handleBroadcast(message *tgbotapi.Message) error {
	b.sessions.set(stateBroadcast, message.From.ID)
	return b.reply(message.Chat.ID,
		"📢 Введите сообщение для рассылки (текст или фото с подписью):\nДля отмены используйте /cancel")
}

func (b *Bot) handleCancel(message *tgbotapi.Message) error {
	b.sessions.take(stateBroadcast, message.From.ID)
	return b.reply(message.Chat.ID, "❌ Рассылка отменена")
}

// handleBroadcastMessage delivers the owner's next text or photo to every
// known user
func (b *Bot) handleBroadcastMessage(ctx context.Context, message *tgbotapi.Message) error {
	b.sessions.take(stateBroadcast, message.From.ID)

	entries := b.dir.All()
	if len(entries) == 0 {
		return b.reply(message.Chat.ID, "❌ Нет пользователей для рассылки")
	}
	recipients := make([]string, 0, len(entries))
	for _, e := range entries {
		recipients = append(recipients, e.ID)
	}

	build := broadcastText(message.Text)
	if len(message.Photo) > 0 {
		build = broadcastPhoto(message.Photo[len(message.Photo)-1].FileID, message.Caption)
	}

	report, err := b.broadcaster.Fanout(ctx, recipients, func(_ context.Context, id string) error {
		chatID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q: %w", id, err)
		}
		_, err = b.api.Send(build(chatID))
		return err
	})
	if err != nil {
		b.log.Error().Err(err).Msg("broadcast interrupted")
		return b.reply(message.Chat.ID, "⚠️ Произошла ошибка при рассылке\n\n"+report.Summary())
	}
	return b.reply(message.Chat.ID, report.Summary())
}

func broadcastText(text string) func(chatID int64) tgbotapi.Chattable {
	return func(chatID int64) tgbotapi.Chattable {
		return tgbotapi.NewMessage(chatID, "📢 Сообщение от учителя:\n\n"+text)
	}
}

func broadcastPhoto(fileID, caption string) func(chatID int64) tgbotapi.Chattable {
	if caption != "" {
		caption = "📢 " + caption
	} else {
		caption = "📢 Сообщение от учителя"
	}
	return func(chatID int64) tgbotapi.Chattable {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(fileID))
		photo.Caption = caption
		return photo
	}
}

func (b *Bot) handleExport(message *tgbotapi.Message) error {
	data, err := excel.ExportUsers(b.dir.All())
	if err != nil {
		b.log.Error().Err(err).Msg("failed to export users")
		return b.reply(message.Chat.ID, "⚠️ Не удалось сформировать выгрузку")
	}

	name := fmt.Sprintf("users_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	doc := tgbotapi.NewDocument(message.Chat.ID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = fmt.Sprintf("📊 Пользователей: %d", b.dir.Count())
	_, err = b.api.Send(doc)
	return err
}
