package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/studybot/internal/tasks"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const quotaExhaustedText = "💳 Вы использовали все бесплатные запросы. Купите премиум через /buy или подождите до завтра."

// aiCommand describes a command answered by the AI
type aiCommand struct {
	usage    string
	progress string
	prompt   string
	context  string
	title    string
}

var aiCommands = map[string]aiCommand{
	"task": {
		usage:    "Пожалуйста, укажите задачу после команды /task",
		progress: "🔍 Решаю задачу...",
		prompt:   "Реши эту задачу по шагам: %s",
		context:  "Ты опытный преподаватель. Реши задачу подробно с объяснением каждого шага.",
		title:    "📚 Решение задачи:",
	},
	"formula": {
		usage:    "Пожалуйста, укажите формулу после команды /formula",
		progress: "🔍 Объясняю формулу...",
		prompt:   "Объясни эту формулу: %s",
		context:  "Ты опытный преподаватель. Объясни формулу простым языком с примерами.",
		title:    "📖 Объяснение формулы:",
	},
	"theorem": {
		usage:    "Пожалуйста, укажите теорему после команды /theorem",
		progress: "🔍 Объясняю теорему...",
		prompt:   "Объясни эту теорему: %s",
		context:  "Ты опытный преподаватель. Объясни теорему с доказательством и примерами.",
		title:    "📖 Объяснение теоремы:",
	},
	"search": {
		usage:    "Пожалуйста, укажите запрос после команды /search",
		progress: "🔍 Ищу информацию...",
		prompt:   "Найди информацию по запросу: %s",
		context:  "Ты опытный преподаватель. Дай развернутый ответ на запрос с примерами.",
		title:    "🔎 Результаты поиска:",
	},
}

func (b *Bot) handleStart(message *tgbotapi.Message) error {
	uid := userKey(message.From.ID)
	_, err := b.dir.Get(uid)
	returning := err == nil

	b.ensureUser(message.From)

	// /start <referrerId>
	if args := commandArgs(message); len(args) > 0 {
		if refID, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			if err := b.referrals.Attach(userKey(refID), uid); err != nil {
				b.log.Error().Err(err).Str("user_id", uid).Msg("failed to persist referral")
			}
		}
	}

	if returning {
		return b.reply(message.Chat.ID, fmt.Sprintf(
			"👋 С возвращением, %s!\nИспользуйте /help для списка команд", fullName(message.From)))
	}
	return b.reply(message.Chat.ID,
		"👋 Добро пожаловать! Я - бот для помощи в учебе.\nИспользуйте /help для списка команд")
}

func (b *Bot) handleHelp(message *tgbotapi.Message) error {
	text := "📚 Доступные команды:\n" +
		"/start - Начать работу с ботом\n" +
		"/subject - Выбрать предмет\n" +
		"/gettask - Получить задание по теме (интерактивно)\n" +
		"/task - Решить задачу (текстом)\n" +
		"/formula - Объяснить формулу\n" +
		"/theorem - Объяснить теорему\n" +
		"/search - Поиск информации\n" +
		"/status - Статус подписки/лимитов\n" +
		"/buy - Купить премиум\n" +
		"/confirm_payment - Сообщить об оплате вручную\n\n" +
		"📷 Пришлите фото задачи, и бот попробует её решить."

	if b.config.isOwner(message.From.ID) {
		text += "\n\n👨‍🏫 Команды учителя:\n" +
			"/list - Список учеников\n" +
			"/broadcast - Рассылка сообщений (/cancel - отмена)\n" +
			"/grant <user_id> <days> - Выдать премиум пользователю вручную\n" +
			"/export - Выгрузить учеников в Excel"
	}
	return b.reply(message.Chat.ID, text)
}

func (b *Bot) handleStatus(message *tgbotapi.Message) error {
	uid := b.ensureUser(message.From)

	left, err := b.quota.Remaining(uid)
	if err != nil {
		b.log.Error().Err(err).Str("user_id", uid).Msg("failed to persist quota reset")
	}

	premium := "Нет"
	if b.subs.IsPremium(uid) {
		premium = "Да"
	}

	return b.reply(message.Chat.ID, fmt.Sprintf(
		"👤 %s\nПремиум: %s\nПремиум до: %s\nБесплатных решений сегодня осталось: %d/%d",
		fullName(message.From), premium, b.subs.ExpiryDisplay(uid), left, b.quota.Limit()))
}

func (b *Bot) handleAICommand(ctx context.Context, message *tgbotapi.Message, cmd aiCommand) error {
	query := strings.TrimSpace(message.CommandArguments())
	if query == "" {
		return b.reply(message.Chat.ID, cmd.usage)
	}

	uid := b.ensureUser(message.From)
	return b.solve(ctx, message.Chat.ID, uid, solveRequest{
		progress: cmd.progress,
		prompt:   fmt.Sprintf(cmd.prompt, query),
		context:  cmd.context,
		title:    cmd.title,
		denied:   quotaExhaustedText,
	})
}

type solveRequest struct {
	progress string
	prompt   string
	context  string
	title    string
	denied   string
}

// solve runs one quota-gated AI request: check the quota, ask the AI and
// count the use only when an answer was delivered
func (b *Bot) solve(ctx context.Context, chatID int64, uid string, req solveRequest) error {
	allowed, err := b.quota.CanUseFree(uid)
	if err != nil {
		b.log.Error().Err(err).Str("user_id", uid).Msg("failed to persist quota reset")
	}
	if !allowed {
		return b.reply(chatID, req.denied)
	}

	if req.progress != "" {
		if err := b.reply(chatID, req.progress); err != nil {
			return err
		}
	}

	answer, err := b.ai.Complete(ctx, req.prompt, req.context)
	if err != nil {
		b.log.Error().Err(err).Str("user_id", uid).Msg("ai request failed")
		return b.reply(chatID, describeAIError(err))
	}

	if err := b.quota.ConsumeFree(uid); err != nil {
		b.log.Error().Err(err).Str("user_id", uid).Msg("failed to persist free use")
	}
	return b.replyLong(chatID, req.title+"\n\n"+answer)
}

func (b *Bot) subjectButtons(prefix string) [][]MenuButton {
	var buttons [][]MenuButton
	for _, s := range b.tasks.Subjects() {
		buttons = append(buttons, []MenuButton{{Text: s.Name, CallbackData: prefix + s.Key}})
	}
	return buttons
}

func (b *Bot) handleSubject(message *tgbotapi.Message) error {
	b.ensureUser(message.From)

	msg := tgbotapi.NewMessage(message.Chat.ID, "Выберите предмет:")
	msg.ReplyMarkup = createKeyboard(b.subjectButtons(callbackSubject))
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) handleGetTask(message *tgbotapi.Message) error {
	// /gettask math algebra
	args := commandArgs(message)
	if len(args) > 1 {
		subject, topic := tasks.SubjectKey(args[0]), tasks.NormalizeKey(args[1])
		if _, ok := b.tasks.SubjectName(subject); ok {
			text, markup, ok := b.taskMessage(subject, topic)
			if !ok {
				return b.reply(message.Chat.ID, "Заданий по этой теме не найдено.")
			}
			msg := tgbotapi.NewMessage(message.Chat.ID, text)
			msg.ReplyMarkup = markup
			_, err := b.api.Send(msg)
			return err
		}
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, "Выберите предмет для задания:")
	msg.ReplyMarkup = createKeyboard(b.subjectButtons(callbackTaskSubject))
	_, err := b.api.Send(msg)
	return err
}

// taskMessage renders a random task of subject/topic with its buttons
func (b *Bot) taskMessage(subject, topic string) (string, tgbotapi.InlineKeyboardMarkup, bool) {
	task, ok := b.tasks.Random(subject, topic)
	if !ok {
		return "", tgbotapi.InlineKeyboardMarkup{}, false
	}
	name, _ := b.tasks.SubjectName(subject)

	text := fmt.Sprintf("📘 Предмет: %s\n📚 Тема: %s\n\n%s%s", name, topic, taskMarker, task)
	markup := createKeyboard([][]MenuButton{
		{{Text: "Решить (бот)", CallbackData: callbackSolveNow + subject + "_" + topic}},
		{{Text: "Получить другое задание", CallbackData: callbackTaskTopic + subject + "_" + topic}},
	})
	return text, markup, true
}

// taskMarker precedes the task text in task messages
const taskMarker = "Задание:\n"

// taskFromMessage recovers the task shown in a task message
func taskFromMessage(text string) (string, bool) {
	_, task, ok := strings.Cut(text, taskMarker)
	task = strings.TrimSpace(task)
	return task, ok && task != ""
}
