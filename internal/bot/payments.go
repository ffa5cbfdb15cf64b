package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const invoicePayloadPrefix = "premium_"

func (b *Bot) invoicePayload(userID int64) string {
	return fmt.Sprintf("%s%d_%d", invoicePayloadPrefix, b.config.PremiumDays, userID)
}

func (b *Bot) handleBuy(message *tgbotapi.Message) error {
	b.ensureUser(message.From)

	if !b.config.paymentsEnabled() {
		b.sessions.set(statePaymentScreenshot, message.From.ID)
		return b.reply(message.Chat.ID,
			"⚠️ Telegram Payments не настроены.\n\n"+
				"Инструкция для ручной оплаты:\n"+
				b.config.ManualDetails+"\n\n"+
				"Отправьте скриншот оплаты в этот чат, и администратор проверит и выдаст вам премиум.\n\n"+
				"После отправки скриншота используйте /confirm_payment чтобы уведомить администратора.")
	}

	days := b.config.PremiumDays
	prices := []tgbotapi.LabeledPrice{{
		Label:  fmt.Sprintf("Premium %d дней", days),
		Amount: b.config.PriceRUB * 100, // smallest currency unit
	}}

	invoice := tgbotapi.NewInvoice(
		message.Chat.ID,
		"Premium подписка",
		fmt.Sprintf("Премиум на %d дней. Цена %d %s", days, b.config.PriceRUB, b.config.Currency),
		b.invoicePayload(message.From.ID),
		b.config.ProviderToken,
		"buy_premium",
		b.config.Currency,
		prices,
	)
	invoice.SuggestedTipAmounts = []int{}

	if _, err := b.api.Send(invoice); err != nil {
		b.log.Error().Err(err).Int64("user_id", message.From.ID).Msg("failed to send invoice")
		return b.reply(message.Chat.ID, "⚠️ Не удалось отправить счет. Проверьте настройки платежного провайдера.")
	}
	return nil
}

func (b *Bot) handlePreCheckout(query *tgbotapi.PreCheckoutQuery) error {
	answer := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	if !strings.HasPrefix(query.InvoicePayload, invoicePayloadPrefix) {
		answer.OK = false
		answer.ErrorMessage = "Неизвестный счет"
	}

	_, err := b.api.Request(answer)
	return err
}

func (b *Bot) handleSuccessfulPayment(message *tgbotapi.Message) error {
	uid := b.ensureUser(message.From)
	days := b.config.PremiumDays

	if _, err := b.subs.GrantDays(uid, days); err != nil {
		b.log.Error().Err(err).Str("user_id", uid).Msg("failed to persist paid premium")
	}

	payment := message.SuccessfulPayment
	b.log.Info().Str("user_id", uid).Str("payload", payment.InvoicePayload).
		Int("amount", payment.TotalAmount).Str("currency", payment.Currency).Msg("payment received")

	return b.reply(message.Chat.ID, fmt.Sprintf("✅ Оплата получена. Вам выдан премиум на %d дней. Спасибо!", days))
}

func (b *Bot) handleConfirmPayment(message *tgbotapi.Message) error {
	uid := b.ensureUser(message.From)

	b.notifyOwners(func(owner int64) tgbotapi.Chattable {
		return tgbotapi.NewMessage(owner, fmt.Sprintf(
			"Пользователь @%s (%s) сообщает о платеже. Проверьте скриншот в чате.", message.From.UserName, uid))
	})

	return b.reply(message.Chat.ID,
		"Спасибо — ваш запрос отправлен администраторам. Как только админ подтвердит оплату, вам будет выдан премиум.")
}

// handleGrant implements /grant <user_id> <days>
func (b *Bot) handleGrant(message *tgbotapi.Message) error {
	args := commandArgs(message)
	if len(args) < 2 {
		return b.reply(message.Chat.ID, "Использование: /grant <user_id> <days>")
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return b.reply(message.Chat.ID, "Некорректный ID пользователя")
	}
	days, err := strconv.Atoi(args[1])
	if err != nil || days <= 0 {
		return b.reply(message.Chat.ID, "Некорректное число дней")
	}

	uid := userKey(targetID)
	if _, err := b.subs.GrantDays(uid, days); err != nil {
		b.log.Error().Err(err).Str("user_id", uid).Msg("failed to persist granted premium")
	}

	if err := b.reply(targetID, fmt.Sprintf("🎉 Вам выдан премиум на %d дней.", days)); err != nil {
		b.log.Warn().Err(err).Str("user_id", uid).Msg("failed to notify user about premium")
	}
	return b.reply(message.Chat.ID, fmt.Sprintf("✅ Выдал премиум пользователю %s на %d дней", uid, days))
}
