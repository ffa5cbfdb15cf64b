package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Constants for callback data prefixes
const (
	callbackSubject     = "subject_"
	callbackTaskSubject = "tasksub_"
	callbackTaskTopic   = "tasktopic_"
	callbackSolveNow    = "solve_now_"
)

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		b.log.Warn().Err(err).Msg("failed to answer callback")
	}
	if callback.From == nil || callback.Message == nil || callback.Message.Chat == nil {
		return nil
	}

	data := callback.Data
	switch {
	case strings.HasPrefix(data, callbackSubject):
		return b.handleSubjectSelected(callback, strings.TrimPrefix(data, callbackSubject))
	case strings.HasPrefix(data, callbackTaskSubject):
		return b.handleTaskSubject(callback, strings.TrimPrefix(data, callbackTaskSubject))
	case strings.HasPrefix(data, callbackTaskTopic):
		subject, topic, ok := strings.Cut(strings.TrimPrefix(data, callbackTaskTopic), "_")
		if !ok {
			return unexpectedCallback(data)
		}
		return b.handleTaskTopic(callback, subject, topic)
	case strings.HasPrefix(data, callbackSolveNow):
		subject, topic, ok := strings.Cut(strings.TrimPrefix(data, callbackSolveNow), "_")
		if !ok {
			return unexpectedCallback(data)
		}
		return b.handleSolveNow(ctx, callback, subject, topic)
	default:
		return unexpectedCallback(data)
	}
}

func (b *Bot) editMessage(callback *tgbotapi.CallbackQuery, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	chatID, messageID := callback.Message.Chat.ID, callback.Message.MessageID

	var edit tgbotapi.EditMessageTextConfig
	if markup != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *markup)
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	_, err := b.api.Send(edit)
	return err
}

func (b *Bot) handleSubjectSelected(callback *tgbotapi.CallbackQuery, subject string) error {
	name, ok := b.tasks.SubjectName(subject)
	if !ok {
		return b.editMessage(callback, "Неизвестный предмет.", nil)
	}

	uid := b.ensureUser(callback.From)
	if err := b.dir.SetSubject(uid, subject); err != nil {
		b.log.Error().Err(err).Str("user_id", uid).Msg("failed to persist subject")
	}

	return b.editMessage(callback, fmt.Sprintf(
		"✅ Предмет установлен: %s\nИспользуйте /gettask чтобы получить задания по теме.", name), nil)
}

func (b *Bot) handleTaskSubject(callback *tgbotapi.CallbackQuery, subject string) error {
	topics := b.tasks.Topics(subject)
	if len(topics) == 0 {
		return b.editMessage(callback, "К сожалению, для этого предмета нет заданий.", nil)
	}

	var buttons [][]MenuButton
	for _, t := range topics {
		buttons = append(buttons, []MenuButton{{Text: t, CallbackData: callbackTaskTopic + subject + "_" + t}})
	}
	markup := createKeyboard(buttons)

	name, _ := b.tasks.SubjectName(subject)
	return b.editMessage(callback, fmt.Sprintf("Выбран предмет: %s\nВыберите тему:", name), &markup)
}

func (b *Bot) handleTaskTopic(callback *tgbotapi.CallbackQuery, subject, topic string) error {
	text, markup, ok := b.taskMessage(subject, topic)
	if !ok {
		return b.editMessage(callback, "Заданий по этой теме не найдено.", nil)
	}
	return b.editMessage(callback, text, &markup)
}

func (b *Bot) handleSolveNow(ctx context.Context, callback *tgbotapi.CallbackQuery, subject, topic string) error {
	task, ok := taskFromMessage(callback.Message.Text)
	if !ok {
		task, ok = b.tasks.Random(subject, topic)
	}
	if !ok {
		return b.editMessage(callback, "Нет доступных заданий для решения.", nil)
	}

	if err := b.editMessage(callback, "🔎 Решаю задание:\n\n"+task, nil); err != nil {
		b.log.Warn().Err(err).Msg("failed to edit task message")
	}

	name, _ := b.tasks.SubjectName(subject)
	uid := b.ensureUser(callback.From)
	return b.solve(ctx, callback.Message.Chat.ID, uid, solveRequest{
		prompt:  "Реши по шагам: " + task,
		context: "Предмет: " + name,
		title:   "✅ Решение:",
		denied:  "💳 Вы использовали все бесплатные запросы. Купите премиум через /buy.",
	})
}
