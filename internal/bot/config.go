package bot

import (
	"slices"
	"time"
)

// BotConfig represents the configuration for the bot
type BotConfig struct {
	// Users allowed to run owner commands
	OwnerIDs []int64
	// Days of premium granted after a successful payment
	PremiumDays int
	// Price of PremiumDays of premium in whole currency units
	PriceRUB int
	Currency string
	// Telegram payments provider token. Empty switches /buy to manual payments.
	ProviderToken string
	// Shown to users paying manually
	ManualDetails string
	// Long polling timeout
	UpdateTimeout time.Duration
}

// DefaultConfig returns the default bot configuration
func DefaultConfig() *BotConfig {
	return &BotConfig{
		PremiumDays:   30,
		PriceRUB:      199,
		Currency:      "RUB",
		ManualDetails: "Свяжитесь с владельцем для оплаты.",
		UpdateTimeout: 60 * time.Second,
	}
}

func (c *BotConfig) isOwner(id int64) bool {
	return slices.Contains(c.OwnerIDs, id)
}

func (c *BotConfig) paymentsEnabled() bool {
	return c.ProviderToken != ""
}
