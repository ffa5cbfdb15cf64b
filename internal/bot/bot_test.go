package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/studybot/internal/ai"
	"github.com/example/studybot/internal/broadcast"
	"github.com/example/studybot/internal/logger"
	"github.com/example/studybot/internal/tasks"
	"github.com/example/studybot/internal/users"
	"github.com/example/studybot/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	ownerID   int64 = 1
	studentID int64 = 100
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	failFor  map[int64]bool
	updates  chan tgbotapi.Update
	stopped  bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{failFor: map[int64]bool{}, updates: make(chan tgbotapi.Update)}
}

func chatOf(c tgbotapi.Chattable) int64 {
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		return v.ChatID
	case tgbotapi.PhotoConfig:
		return v.ChatID
	case tgbotapi.DocumentConfig:
		return v.ChatID
	case tgbotapi.InvoiceConfig:
		return v.ChatID
	case tgbotapi.EditMessageTextConfig:
		return v.ChatID
	}
	return 0
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[chatOf(c)] {
		return tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user")
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// textsTo returns the texts and captions sent to chatID
func (f *fakeAPI) textsTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, c := range f.sent {
		if chatOf(c) != chatID {
			continue
		}
		switch v := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, v.Text)
		case tgbotapi.PhotoConfig:
			out = append(out, v.Caption)
		case tgbotapi.DocumentConfig:
			out = append(out, v.Caption)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, v.Text)
		case tgbotapi.InvoiceConfig:
			out = append(out, v.Title)
		}
	}
	return out
}

func (f *fakeAPI) lastTo(t *testing.T, chatID int64) string {
	t.Helper()
	texts := f.textsTo(chatID)
	require.NotEmpty(t, texts, "nothing sent to %d", chatID)
	return texts[len(texts)-1]
}

func (f *fakeAPI) sentOfType(kind string) []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.Chattable
	for _, c := range f.sent {
		switch c.(type) {
		case tgbotapi.PhotoConfig:
			if kind == "photo" {
				out = append(out, c)
			}
		case tgbotapi.InvoiceConfig:
			if kind == "invoice" {
				out = append(out, c)
			}
		case tgbotapi.DocumentConfig:
			if kind == "document" {
				out = append(out, c)
			}
		}
	}
	return out
}

type mockSolver struct {
	mock.Mock
}

func (m *mockSolver) Complete(ctx context.Context, prompt, contextText string) (string, error) {
	args := m.Called(ctx, prompt, contextText)
	return args.String(0), args.Error(1)
}

type fakeOCR struct {
	enabled bool
	text    string
	err     error
}

func (f *fakeOCR) Enabled() bool { return f.enabled }

func (f *fakeOCR) Recognize(context.Context, []byte) (string, error) {
	return f.text, f.err
}

type fakeFiles struct{}

func (fakeFiles) Fetch(context.Context, string) ([]byte, error) {
	return []byte("jpeg"), nil
}

type memoryCommitter struct {
	mu      sync.Mutex
	commits int
}

func (m *memoryCommitter) Commit(uint64, models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	return nil
}

type fixture struct {
	bot    *Bot
	api    *fakeAPI
	solver *mockSolver
	ocr    *fakeOCR
	dir    *users.Directory
	subs   *users.Subscriptions
	quota  *users.Quota
}

func newFixture(t *testing.T, configure ...func(*BotConfig)) *fixture {
	t.Helper()

	log := logger.Nop()
	dir := users.NewDirectory(nil, &memoryCommitter{}, log)
	quota := users.NewQuota(dir, 2)
	subs := users.NewSubscriptions(dir)

	cfg := DefaultConfig()
	cfg.OwnerIDs = []int64{ownerID}
	for _, c := range configure {
		c(cfg)
	}

	f := &fixture{
		api:    newFakeAPI(),
		solver: &mockSolver{},
		ocr:    &fakeOCR{},
		dir:    dir,
		subs:   subs,
		quota:  quota,
	}
	f.bot = New(cfg, Deps{
		API:         f.api,
		Directory:   dir,
		Quota:       quota,
		Subs:        subs,
		Referrals:   users.NewReferrals(dir),
		Tasks:       tasks.Default(),
		Broadcaster: broadcast.New(1000, nil, log),
		AI:          f.solver,
		OCR:         f.ocr,
		Files:       fakeFiles{},
		Logger:      log,
	})
	return f
}

func command(from int64, text string) tgbotapi.Update {
	cmd := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: from, FirstName: "Ivan", LastName: "Petrov", UserName: "ivan"},
		Chat: &tgbotapi.Chat{ID: from},
		Text: text,
		Entities: []tgbotapi.MessageEntity{{
			Type:   "bot_command",
			Offset: 0,
			Length: len(cmd),
		}},
	}}
}

func text(from int64, body string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: from, FirstName: "Ivan", UserName: "ivan"},
		Chat: &tgbotapi.Chat{ID: from},
		Text: body,
	}}
}

func photo(from int64, caption string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:    &tgbotapi.User{ID: from, FirstName: "Ivan", UserName: "ivan"},
		Chat:    &tgbotapi.Chat{ID: from},
		Caption: caption,
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small"},
			{FileID: "large"},
		},
	}}
}

func callback(from int64, data, messageText string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: from, FirstName: "Ivan", UserName: "ivan"},
		Message: &tgbotapi.Message{
			MessageID: 42,
			Chat:      &tgbotapi.Chat{ID: from},
			Text:      messageText,
		},
		Data: data,
	}}
}

func (f *fixture) handle(u tgbotapi.Update) {
	f.bot.handleUpdate(context.Background(), u)
}

func TestStart_RegistersUser(t *testing.T) {
	f := newFixture(t)

	f.handle(command(studentID, "/start"))

	u, err := f.dir.Get("100")
	require.NoError(t, err)
	assert.Equal(t, "Ivan Petrov", u.FullName)
	assert.Equal(t, "ivan", u.Username)
	assert.Contains(t, f.api.lastTo(t, studentID), "Добро пожаловать")

	f.handle(command(studentID, "/start"))
	assert.Contains(t, f.api.lastTo(t, studentID), "С возвращением, Ivan Petrov")
}

func TestStart_AttachesReferral(t *testing.T) {
	f := newFixture(t)

	f.handle(command(studentID, "/start 200"))

	u, err := f.dir.Get("100")
	require.NoError(t, err)
	require.NotNil(t, u.Referrer)
	assert.Equal(t, "200", *u.Referrer)

	ref, err := f.dir.Get("200")
	require.NoError(t, err)
	assert.Equal(t, []string{"100"}, ref.Referrals)
	assert.Equal(t, models.UnknownName, ref.FullName)
}

func TestStart_IgnoresSelfAndInvalidReferral(t *testing.T) {
	f := newFixture(t)

	f.handle(command(studentID, "/start 100"))
	f.handle(command(studentID, "/start abc"))

	u, err := f.dir.Get("100")
	require.NoError(t, err)
	assert.Nil(t, u.Referrer)
	assert.Empty(t, u.Referrals)
	assert.Equal(t, 1, f.dir.Count())
}

func TestAICommand_RequiresArgument(t *testing.T) {
	f := newFixture(t)

	f.handle(command(studentID, "/task"))

	assert.Equal(t, "Пожалуйста, укажите задачу после команды /task", f.api.lastTo(t, studentID))
	f.solver.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestAICommand_QuotaGating(t *testing.T) {
	f := newFixture(t)
	f.solver.On("Complete", mock.Anything, "Реши эту задачу по шагам: 2x + 5 = 17", mock.Anything).
		Return("x = 6", nil).Twice()

	f.handle(command(studentID, "/task 2x + 5 = 17"))
	assert.Equal(t, "📚 Решение задачи:\n\nx = 6", f.api.lastTo(t, studentID))

	f.handle(command(studentID, "/task 2x + 5 = 17"))
	f.handle(command(studentID, "/task 2x + 5 = 17"))
	assert.Equal(t, quotaExhaustedText, f.api.lastTo(t, studentID))

	f.solver.AssertExpectations(t)
	left, err := f.quota.Remaining("100")
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestAICommand_PremiumIsUnlimited(t *testing.T) {
	f := newFixture(t)
	_, err := f.subs.GrantDays("100", 1)
	require.NoError(t, err)
	f.solver.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("ok", nil)

	for i := 0; i < 5; i++ {
		f.handle(command(studentID, "/formula E = mc^2"))
	}

	f.solver.AssertNumberOfCalls(t, "Complete", 5)
	assert.Equal(t, "📖 Объяснение формулы:\n\nok", f.api.lastTo(t, studentID))
}

func TestAICommand_FailureDoesNotConsumeQuota(t *testing.T) {
	f := newFixture(t)
	f.solver.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return("", ai.ErrServiceFailure)

	f.handle(command(studentID, "/search Пифагор"))

	assert.Equal(t, "⚠️ Не удалось связаться с ИИ.", f.api.lastTo(t, studentID))
	left, err := f.quota.Remaining("100")
	require.NoError(t, err)
	assert.Equal(t, 2, left)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	f.handle(command(studentID, "/status"))

	status := f.api.lastTo(t, studentID)
	assert.Contains(t, status, "Премиум: Нет")
	assert.Contains(t, status, "Премиум до: Нет")
	assert.Contains(t, status, "осталось: 2/2")
}

func TestOwnerCommands_DeniedForStudents(t *testing.T) {
	f := newFixture(t)

	for _, cmd := range []string{"/list", "/broadcast", "/grant 100 30", "/export"} {
		f.handle(command(studentID, cmd))
		assert.Equal(t, "⛔ Доступ только для учителей", f.api.lastTo(t, studentID), cmd)
	}
	assert.False(t, f.subs.IsPremium("100"))
}

func TestGrant(t *testing.T) {
	f := newFixture(t)

	f.handle(command(ownerID, "/grant 100 30"))

	assert.True(t, f.subs.IsPremium("100"))
	assert.Equal(t, "✅ Выдал премиум пользователю 100 на 30 дней", f.api.lastTo(t, ownerID))
	assert.Equal(t, "🎉 Вам выдан премиум на 30 дней.", f.api.lastTo(t, studentID))
}

func TestGrant_InvalidArguments(t *testing.T) {
	f := newFixture(t)

	f.handle(command(ownerID, "/grant 100"))
	assert.Equal(t, "Использование: /grant <user_id> <days>", f.api.lastTo(t, ownerID))

	f.handle(command(ownerID, "/grant 100 -5"))
	assert.Equal(t, "Некорректное число дней", f.api.lastTo(t, ownerID))

	f.handle(command(ownerID, "/grant bob 5"))
	assert.Equal(t, "Некорректный ID пользователя", f.api.lastTo(t, ownerID))

	_, err := f.dir.Get("100")
	assert.ErrorIs(t, err, users.ErrNotFound)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dir.Ensure("100", "Ann", "ann"))
	require.NoError(t, f.dir.Ensure("20", "Bob", ""))

	f.handle(command(ownerID, "/list"))

	assert.Equal(t,
		"📝 Список пользователей:\n👤 Bob (@unknown) ID: 20\n👤 Ann (@ann) ID: 100",
		f.api.lastTo(t, ownerID))
}

func TestBroadcast_Text(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dir.Ensure("100", "Ann", "ann"))
	require.NoError(t, f.dir.Ensure("300", "Bob", "bob"))
	f.api.failFor[300] = true

	f.handle(command(ownerID, "/broadcast"))
	f.handle(text(ownerID, "Завтра контрольная"))

	assert.Equal(t, "📢 Сообщение от учителя:\n\nЗавтра контрольная", f.api.lastTo(t, studentID))
	assert.Equal(t, "✅ Рассылка завершена:\nОтправлено: 1\nНе удалось: 1\n\nОшибки у ID: 300", f.api.lastTo(t, ownerID))

	// broadcast mode ends after one message
	f.handle(text(ownerID, "hello"))
	assert.Equal(t, "Используйте /help для списка команд", f.api.lastTo(t, ownerID))
}

func TestBroadcast_PhotoAndCancel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dir.Ensure("100", "Ann", "ann"))

	f.handle(command(ownerID, "/broadcast"))
	f.handle(command(ownerID, "/cancel"))
	assert.Equal(t, "❌ Рассылка отменена", f.api.lastTo(t, ownerID))

	f.handle(command(ownerID, "/broadcast"))
	f.handle(photo(ownerID, "Расписание"))

	photos := f.api.sentOfType("photo")
	require.Len(t, photos, 1)
	p := photos[0].(tgbotapi.PhotoConfig)
	assert.Equal(t, studentID, p.ChatID)
	assert.Equal(t, "📢 Расписание", p.Caption)
}

func TestBuy_ManualFlowForwardsScreenshot(t *testing.T) {
	f := newFixture(t)

	f.handle(command(studentID, "/buy"))
	assert.Contains(t, f.api.lastTo(t, studentID), "Свяжитесь с владельцем для оплаты.")

	f.handle(photo(studentID, "чек"))

	assert.Equal(t, "💳 Скриншот оплаты от @ivan (100)\nчек", f.api.lastTo(t, ownerID))
	assert.Contains(t, f.api.lastTo(t, studentID), "Скриншот отправлен администраторам")

	// the next photo is a regular one again
	f.handle(photo(studentID, ""))
	assert.Contains(t, f.api.lastTo(t, ownerID), "📩 От ученика Ivan")
}

func TestBuy_Invoice(t *testing.T) {
	f := newFixture(t, func(c *BotConfig) { c.ProviderToken = "provider" })

	f.handle(command(studentID, "/buy"))

	invoices := f.api.sentOfType("invoice")
	require.Len(t, invoices, 1)
	inv := invoices[0].(tgbotapi.InvoiceConfig)
	assert.Equal(t, "premium_30_100", inv.Payload)
	assert.Equal(t, "RUB", inv.Currency)
	require.Len(t, inv.Prices, 1)
	assert.Equal(t, 19900, inv.Prices[0].Amount)
	assert.NotNil(t, inv.SuggestedTipAmounts)
}

func TestPayment_PreCheckoutAndSuccess(t *testing.T) {
	f := newFixture(t, func(c *BotConfig) { c.ProviderToken = "provider" })

	f.handle(tgbotapi.Update{PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{
		ID:             "q1",
		From:           &tgbotapi.User{ID: studentID},
		InvoicePayload: "premium_30_100",
	}})
	require.Len(t, f.api.requests, 1)
	answer := f.api.requests[0].(tgbotapi.PreCheckoutConfig)
	assert.True(t, answer.OK)

	f.handle(tgbotapi.Update{Message: &tgbotapi.Message{
		From:              &tgbotapi.User{ID: studentID, FirstName: "Ivan"},
		Chat:              &tgbotapi.Chat{ID: studentID},
		SuccessfulPayment: &tgbotapi.SuccessfulPayment{Currency: "RUB", TotalAmount: 19900, InvoicePayload: "premium_30_100"},
	}})

	assert.True(t, f.subs.IsPremium("100"))
	assert.Equal(t, "✅ Оплата получена. Вам выдан премиум на 30 дней. Спасибо!", f.api.lastTo(t, studentID))
}

func TestPreCheckout_RejectsUnknownPayload(t *testing.T) {
	f := newFixture(t)

	f.handle(tgbotapi.Update{PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{ID: "q1", InvoicePayload: "other"}})

	require.Len(t, f.api.requests, 1)
	assert.False(t, f.api.requests[0].(tgbotapi.PreCheckoutConfig).OK)
}

func TestConfirmPayment_NotifiesOwners(t *testing.T) {
	f := newFixture(t)

	f.handle(command(studentID, "/confirm_payment"))

	assert.Equal(t, "Пользователь @ivan (100) сообщает о платеже. Проверьте скриншот в чате.", f.api.lastTo(t, ownerID))
}

func TestSubjectCallback(t *testing.T) {
	f := newFixture(t)

	f.handle(callback(studentID, "subject_math", "Выберите предмет:"))

	u, err := f.dir.Get("100")
	require.NoError(t, err)
	require.NotNil(t, u.Subject)
	assert.Equal(t, "math", *u.Subject)
	assert.Contains(t, f.api.lastTo(t, studentID), "Предмет установлен: Математика")

	f.handle(callback(studentID, "subject_alchemy", ""))
	assert.Equal(t, "Неизвестный предмет.", f.api.lastTo(t, studentID))
}

func TestTaskCallbacks(t *testing.T) {
	f := newFixture(t)

	f.handle(callback(studentID, "tasksub_history", ""))
	assert.Equal(t, "Выбран предмет: История\nВыберите тему:", f.api.lastTo(t, studentID))

	f.handle(callback(studentID, "tasktopic_history_middle_ages", ""))
	shown := f.api.lastTo(t, studentID)
	assert.Contains(t, shown, "📚 Тема: middle_ages")
	task, ok := taskFromMessage(shown)
	require.True(t, ok)

	f.solver.On("Complete", mock.Anything, "Реши по шагам: "+task, "Предмет: История").Return("ответ", nil).Once()
	f.handle(callback(studentID, "solve_now_history_middle_ages", shown))

	assert.Equal(t, "✅ Решение:\n\nответ", f.api.lastTo(t, studentID))
	f.solver.AssertExpectations(t)
}

func TestTaskCallbacks_UnknownTopic(t *testing.T) {
	f := newFixture(t)

	f.handle(callback(studentID, "tasktopic_math_calculus", ""))
	assert.Equal(t, "Заданий по этой теме не найдено.", f.api.lastTo(t, studentID))

	f.handle(callback(studentID, "tasksub_chemistry", ""))
	assert.Equal(t, "К сожалению, для этого предмета нет заданий.", f.api.lastTo(t, studentID))
}

func TestGetTask_WithArguments(t *testing.T) {
	f := newFixture(t)

	f.handle(command(studentID, "/gettask math geometry"))
	assert.Contains(t, f.api.lastTo(t, studentID), "📚 Тема: geometry")

	f.handle(command(studentID, "/gettask"))
	assert.Equal(t, "Выберите предмет для задания:", f.api.lastTo(t, studentID))
}

func TestPhoto_OCRSolves(t *testing.T) {
	f := newFixture(t)
	f.ocr.enabled = true
	f.ocr.text = "2 + 2"
	require.NoError(t, f.dir.SetSubject("100", "math"))
	f.solver.On("Complete", mock.Anything, "Реши задачу по шагам. Предмет: Математика. Задача:\n2 + 2", mock.Anything).
		Return("4", nil)

	f.handle(photo(studentID, ""))

	assert.Equal(t, "📚 Решение:\n\n4", f.api.lastTo(t, studentID))
	assert.Empty(t, f.api.textsTo(ownerID))
}

func TestPhoto_OCRFailureForwardsToOwners(t *testing.T) {
	f := newFixture(t)
	f.ocr.enabled = true
	f.ocr.err = errors.New("ocr unavailable")

	f.handle(photo(studentID, "помогите"))

	assert.Equal(t, "📩 От ученика Ivan\n@ivan\n\nпомогите", f.api.lastTo(t, ownerID))
	assert.Equal(t, "✅ Ваше фото отправлено учителям (распознавание не сработало).", f.api.lastTo(t, studentID))
	f.solver.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dir.Ensure("100", "Ann", "ann"))

	f.handle(command(ownerID, "/export"))

	docs := f.api.sentOfType("document")
	require.Len(t, docs, 1)
	doc := docs[0].(tgbotapi.DocumentConfig)
	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(file.Name, ".xlsx"))
	assert.NotEmpty(t, file.Bytes)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	f.api.updates <- command(studentID, "/help")
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, f.api.stopped)
	assert.Contains(t, f.api.lastTo(t, studentID), "Доступные команды")
}

func TestChunkText(t *testing.T) {
	assert.Equal(t, []string{"abc"}, chunkText("abc", 5))
	assert.Equal(t, []string{"аб", "вг", "д"}, chunkText("абвгд", 2))

	long := strings.Repeat("я", maxMessageLength+1)
	chunks := chunkText(long, maxMessageLength)
	require.Len(t, chunks, 2)
	assert.Equal(t, "я", chunks[1])
}

func TestBotConfig_OwnersAndPayments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OwnerIDs = []int64{11, 22}

	assert.True(t, cfg.isOwner(22))
	assert.False(t, cfg.isOwner(33))
	assert.False(t, cfg.paymentsEnabled())

	cfg.ProviderToken = "provider"
	assert.True(t, cfg.paymentsEnabled())
}
