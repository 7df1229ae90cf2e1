package domain

import "time"

// NotificationType classifies inbox entries
type NotificationType string

const (
	NotifyVoucherSent      NotificationType = "voucher_sent"
	NotifyVoucherReceived  NotificationType = "voucher_received"
	NotifyVoucherRedeemed  NotificationType = "voucher_redeemed"
	NotifyTopUp            NotificationType = "top_up"
	NotifyRedemptionUpdate NotificationType = "redemption_update"
	NotifyGiftReceived     NotificationType = "gift_received"
	NotifyCurrencyChanged  NotificationType = "currency_changed"
	NotifyBroadcast        NotificationType = "broadcast"
)

// Notification is an inbox entry for a user
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Type      NotificationType `json:"type"`
	RelatedID string           `json:"related_id,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
