package domain

import (
	"errors"
	"time"
)

// GiftIcon is an entry in the micro-gift catalog. Amount is in USD cents.
type GiftIcon struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

var giftCatalog = []GiftIcon{
	{ID: "heart", Name: "Heart", Amount: 100},
	{ID: "rose", Name: "Rose", Amount: 200},
	{ID: "coffee", Name: "Coffee", Amount: 300},
	{ID: "cake", Name: "Cake", Amount: 500},
	{ID: "star", Name: "Star", Amount: 1000},
}

// GiftCatalog returns a copy of the fixed catalog
func GiftCatalog() []GiftIcon {
	out := make([]GiftIcon, len(giftCatalog))
	copy(out, giftCatalog)
	return out
}

// LookupGift finds a catalog entry by id
func LookupGift(id string) (GiftIcon, bool) {
	for _, g := range giftCatalog {
		if g.ID == id {
			return g, true
		}
	}
	return GiftIcon{}, false
}

// MicroGiftStatus is the state of a micro-gift
type MicroGiftStatus string

const MicroGiftSent MicroGiftStatus = "sent"

// MicroGift is a small catalog gift paid from the sender balance. It never
// reaches the recipient's wallet.
type MicroGift struct {
	ID             string          `json:"id"`
	SenderID       string          `json:"sender_id"`
	SenderPhone    string          `json:"sender_phone"`
	RecipientPhone string          `json:"recipient_phone"`
	IconID         string          `json:"icon_id"`
	IconName       string          `json:"icon_name"`
	Amount         int64           `json:"amount"`
	Status         MicroGiftStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewMicroGift creates a sent micro-gift
func NewMicroGift(id string, sender *User, recipientPhone string, icon GiftIcon) (*MicroGift, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if sender == nil || recipientPhone == "" {
		return nil, errors.New("sender and recipient are required")
	}
	return &MicroGift{
		ID:             id,
		SenderID:       sender.ID,
		SenderPhone:    sender.Phone,
		RecipientPhone: recipientPhone,
		IconID:         icon.ID,
		IconName:       icon.Name,
		Amount:         icon.Amount,
		Status:         MicroGiftSent,
		CreatedAt:      time.Now().UTC(),
	}, nil
}
