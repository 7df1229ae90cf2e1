// Package memory is an in-process ledger store for development and tests.
//
// Transactions are serialised by a single mutex. Each transaction works on a
// copy of the state which replaces the committed state only when fn returns
// nil, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"voucherpay/internal/common/database"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger/domain"
	"voucherpay/internal/ledger/store"
)

type state struct {
	users       map[string]domain.User
	wallets     map[string]domain.Wallet
	vouchers    map[string]domain.Voucher
	payments    map[string]domain.Payment
	redemptions map[string]domain.Redemption
	gifts       map[string]domain.MicroGift
	settings    *domain.Settings
}

func newState() *state {
	return &state{
		users:       map[string]domain.User{},
		wallets:     map[string]domain.Wallet{},
		vouchers:    map[string]domain.Voucher{},
		payments:    map[string]domain.Payment{},
		redemptions: map[string]domain.Redemption{},
		gifts:       map[string]domain.MicroGift{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	c := &state{
		users:       cloneMap(s.users),
		wallets:     cloneMap(s.wallets),
		vouchers:    cloneMap(s.vouchers),
		payments:    cloneMap(s.payments),
		redemptions: cloneMap(s.redemptions),
		gifts:       cloneMap(s.gifts),
	}
	if s.settings != nil {
		settings := *s.settings
		settings.Rates = s.settings.Rates.Clone()
		c.settings = &settings
	}
	return c
}

// Store is the in-memory ledger store
type Store struct {
	mu    sync.Mutex
	state *state

	notifyMu      sync.Mutex
	notifications []domain.Notification
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{state: newState()}
}

// WithTx runs fn against a private copy of the state and commits it on success
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// HealthCheck always succeeds
func (s *Store) HealthCheck(ctx context.Context) error {
	return nil
}

type memTx struct {
	st *state
}

func notFound(what, key string) error {
	return fmt.Errorf("%s %s: %w", what, key, database.ErrNotFound)
}

func exists(what, key string) error {
	return fmt.Errorf("%s %s: %w", what, key, database.ErrAlreadyExists)
}

func (t *memTx) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, u.Validate()
}

func (t *memTx) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	for _, u := range t.st.users {
		if u.Phone == phone {
			return &u, u.Validate()
		}
	}
	return nil, notFound("user", phone)
}

func (t *memTx) GetUserByHandle(ctx context.Context, handle string) (*domain.User, error) {
	for _, u := range t.st.users {
		if u.Handle != "" && strings.EqualFold(u.Handle, handle) {
			return &u, u.Validate()
		}
	}
	return nil, notFound("user", handle)
}

func (t *memTx) CreateUser(ctx context.Context, u *domain.User) error {
	if _, ok := t.st.users[u.ID]; ok {
		return exists("user", u.ID)
	}
	if err := t.checkUnique(u); err != nil {
		return err
	}
	t.st.users[u.ID] = *u
	return nil
}

func (t *memTx) UpdateUser(ctx context.Context, u *domain.User) error {
	if _, ok := t.st.users[u.ID]; !ok {
		return notFound("user", u.ID)
	}
	if err := t.checkUnique(u); err != nil {
		return err
	}
	t.st.users[u.ID] = *u
	return nil
}

func (t *memTx) checkUnique(u *domain.User) error {
	for id, other := range t.st.users {
		if id == u.ID {
			continue
		}
		if other.Phone == u.Phone {
			return exists("user phone", u.Phone)
		}
		if u.Handle != "" && strings.EqualFold(other.Handle, u.Handle) {
			return exists("user handle", u.Handle)
		}
	}
	return nil
}

func (t *memTx) GetWallet(ctx context.Context, phone string) (*domain.Wallet, error) {
	w, ok := t.st.wallets[phone]
	if !ok {
		return nil, notFound("wallet", phone)
	}
	return &w, w.Validate()
}

func (t *memTx) PutWallet(ctx context.Context, w *domain.Wallet) error {
	if err := w.Validate(); err != nil {
		return err
	}
	t.st.wallets[w.Phone] = *w
	return nil
}

func (t *memTx) GetVoucher(ctx context.Context, id string) (*domain.Voucher, error) {
	v, ok := t.st.vouchers[id]
	if !ok {
		return nil, notFound("voucher", id)
	}
	return &v, v.Validate()
}

func (t *memTx) GetVoucherByCode(ctx context.Context, recipientPhone, code string) (*domain.Voucher, error) {
	for _, v := range t.st.vouchers {
		if v.RecipientPhone == recipientPhone && v.Code == code && v.Status == domain.VoucherDelivered {
			return &v, v.Validate()
		}
	}
	return nil, notFound("voucher", code)
}

func (t *memTx) CreateVoucher(ctx context.Context, v *domain.Voucher) error {
	if _, ok := t.st.vouchers[v.ID]; ok {
		return exists("voucher", v.ID)
	}
	for _, other := range t.st.vouchers {
		if v.PaymentReference != "" && other.PaymentReference == v.PaymentReference {
			return exists("voucher for payment", v.PaymentReference)
		}
		if other.Status == domain.VoucherDelivered && other.RecipientPhone == v.RecipientPhone && other.Code == v.Code {
			return exists("voucher code", v.Code)
		}
	}
	t.st.vouchers[v.ID] = *v
	return nil
}

func (t *memTx) UpdateVoucher(ctx context.Context, v *domain.Voucher) error {
	if _, ok := t.st.vouchers[v.ID]; !ok {
		return notFound("voucher", v.ID)
	}
	t.st.vouchers[v.ID] = *v
	return nil
}

func (t *memTx) GetPayment(ctx context.Context, reference string) (*domain.Payment, error) {
	p, ok := t.st.payments[reference]
	if !ok {
		return nil, notFound("payment", reference)
	}
	return &p, p.Validate()
}

func (t *memTx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	if _, ok := t.st.payments[p.Reference]; ok {
		return exists("payment", p.Reference)
	}
	t.st.payments[p.Reference] = *p
	return nil
}

func (t *memTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	if _, ok := t.st.payments[p.Reference]; !ok {
		return notFound("payment", p.Reference)
	}
	t.st.payments[p.Reference] = *p
	return nil
}

func (t *memTx) GetRedemption(ctx context.Context, id string) (*domain.Redemption, error) {
	r, ok := t.st.redemptions[id]
	if !ok {
		return nil, notFound("redemption", id)
	}
	return &r, r.Validate()
}

func (t *memTx) CreateRedemption(ctx context.Context, r *domain.Redemption) error {
	if _, ok := t.st.redemptions[r.ID]; ok {
		return exists("redemption", r.ID)
	}
	t.st.redemptions[r.ID] = *r
	return nil
}

func (t *memTx) UpdateRedemption(ctx context.Context, r *domain.Redemption) error {
	if _, ok := t.st.redemptions[r.ID]; !ok {
		return notFound("redemption", r.ID)
	}
	t.st.redemptions[r.ID] = *r
	return nil
}

func (t *memTx) CreateMicroGift(ctx context.Context, g *domain.MicroGift) error {
	if _, ok := t.st.gifts[g.ID]; ok {
		return exists("micro gift", g.ID)
	}
	t.st.gifts[g.ID] = *g
	return nil
}

func (t *memTx) GetSettings(ctx context.Context) (*domain.Settings, error) {
	if t.st.settings == nil {
		return domain.DefaultSettings(), nil
	}
	s := *t.st.settings
	s.Rates = t.st.settings.Rates.Clone()
	return &s, nil
}

func (t *memTx) PutSettings(ctx context.Context, s *domain.Settings) error {
	c := *s
	if c.Rates == nil {
		c.Rates = exchange.Rates{}
	} else {
		c.Rates = s.Rates.Clone()
	}
	t.st.settings = &c
	return nil
}

// snapshot returns the committed state for read-only queries.
func (s *Store) snapshot() *state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ListVouchersBySender lists vouchers a user has sent, newest first
func (s *Store) ListVouchersBySender(ctx context.Context, senderID string) ([]*domain.Voucher, error) {
	return filterSorted(s.snapshot().vouchers, func(v domain.Voucher) bool { return v.SenderID == senderID },
		func(a, b *domain.Voucher) bool { return a.CreatedAt.After(b.CreatedAt) }), nil
}

// ListVouchersByRecipient lists vouchers addressed to a phone, newest first
func (s *Store) ListVouchersByRecipient(ctx context.Context, phone string) ([]*domain.Voucher, error) {
	return filterSorted(s.snapshot().vouchers, func(v domain.Voucher) bool { return v.RecipientPhone == phone },
		func(a, b *domain.Voucher) bool { return a.CreatedAt.After(b.CreatedAt) }), nil
}

// ListRedemptions lists redemptions matching f, newest first
func (s *Store) ListRedemptions(ctx context.Context, f store.RedemptionFilter) ([]*domain.Redemption, error) {
	return filterSorted(s.snapshot().redemptions, func(r domain.Redemption) bool {
		return (f.UserID == "" || r.UserID == f.UserID) && (f.Status == "" || r.Status == f.Status)
	}, func(a, b *domain.Redemption) bool { return a.CreatedAt.After(b.CreatedAt) }), nil
}

// ListGiftsReceived lists micro-gifts sent to a phone, newest first
func (s *Store) ListGiftsReceived(ctx context.Context, phone string) ([]*domain.MicroGift, error) {
	return filterSorted(s.snapshot().gifts, func(g domain.MicroGift) bool { return g.RecipientPhone == phone },
		func(a, b *domain.MicroGift) bool { return a.CreatedAt.After(b.CreatedAt) }), nil
}

// ListUsers lists every user, oldest first
func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return filterSorted(s.snapshot().users, func(domain.User) bool { return true },
		func(a, b *domain.User) bool { return a.CreatedAt.Before(b.CreatedAt) }), nil
}

func filterSorted[K comparable, V any](m map[K]V, keep func(V) bool, less func(a, b *V) bool) []*V {
	var out []*V
	for _, v := range m {
		if keep(v) {
			v := v
			out = append(out, &v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// SaveNotification stores an inbox entry
func (s *Store) SaveNotification(ctx context.Context, n *domain.Notification) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notifications = append(s.notifications, *n)
	return nil
}

// ListNotifications lists a user's inbox, newest first
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	var out []*domain.Notification
	for i := len(s.notifications) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if n := s.notifications[i]; n.UserID == userID {
			out = append(out, &n)
		}
	}
	return out, nil
}

// MarkNotificationRead flags one of a user's notifications as read
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].UserID == userID {
			s.notifications[i].Read = true
			return nil
		}
	}
	return notFound("notification", id)
}
