package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// handleMedia handles photos: a pending payment screenshot goes to the
// owners, anything else is read with OCR and solved, or forwarded to the
// owners when no text could be recognised
func (b *Bot) handleMedia(ctx context.Context, message *tgbotapi.Message) error {
	uid := b.ensureUser(message.From)
	fileID := message.Photo[len(message.Photo)-1].FileID

	if b.sessions.take(statePaymentScreenshot, message.From.ID) {
		caption := fmt.Sprintf("💳 Скриншот оплаты от @%s (%s)\n%s", message.From.UserName, uid, message.Caption)
		b.notifyOwners(func(owner int64) tgbotapi.Chattable {
			photo := tgbotapi.NewPhoto(owner, tgbotapi.FileID(fileID))
			photo.Caption = caption
			return photo
		})
		return b.reply(message.Chat.ID, "✅ Скриншот отправлен администраторам. После проверки вам вручат премиум (через /grant).")
	}

	if text := b.recognize(ctx, message.Chat.ID, fileID); text != "" {
		if err := b.reply(message.Chat.ID, "🧾 Текст распознан. Отправляю на решение..."); err != nil {
			return err
		}
		return b.solve(ctx, message.Chat.ID, uid, solveRequest{
			prompt:  fmt.Sprintf("Реши задачу по шагам. Предмет: %s. Задача:\n%s", b.subjectName(uid), text),
			context: "Ты опытный преподаватель. Реши подробно с объяснениями.",
			title:   "📚 Решение:",
			denied:  "💳 Вы использовали все бесплатные запросы. Купите премиум через /buy.",
		})
	}

	user, err := b.dir.Get(uid)
	if err != nil {
		return err
	}
	caption := fmt.Sprintf("📩 От ученика %s\n@%s", user.FullName, user.Username)
	if message.Caption != "" {
		caption += "\n\n" + message.Caption
	}
	b.notifyOwners(func(owner int64) tgbotapi.Chattable {
		photo := tgbotapi.NewPhoto(owner, tgbotapi.FileID(fileID))
		photo.Caption = caption
		return photo
	})
	return b.reply(message.Chat.ID, "✅ Ваше фото отправлено учителям (распознавание не сработало).")
}

// recognize returns the text on the photo, or "" when OCR is disabled or
// failed
func (b *Bot) recognize(ctx context.Context, chatID int64, fileID string) string {
	if b.ocr == nil || !b.ocr.Enabled() || b.files == nil {
		return ""
	}
	if err := b.reply(chatID, "🔎 Пытаюсь распознать текст на фото..."); err != nil {
		b.log.Warn().Err(err).Msg("failed to send progress message")
	}

	image, err := b.files.Fetch(ctx, fileID)
	if err != nil {
		b.log.Error().Err(err).Str("file_id", fileID).Msg("failed to download photo")
		return ""
	}

	text, err := b.ocr.Recognize(ctx, image)
	if err != nil {
		b.log.Warn().Err(err).Msg("ocr failed")
		return ""
	}
	return text
}

func (b *Bot) subjectName(uid string) string {
	user, err := b.dir.Get(uid)
	if err != nil || user.Subject == nil {
		return "Не указан"
	}
	if name, ok := b.tasks.SubjectName(*user.Subject); ok {
		return name
	}
	return "Не указан"
}
