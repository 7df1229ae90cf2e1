package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"voucherpay/internal/common/database"
	"voucherpay/internal/common/money"
	"voucherpay/internal/ledger/domain"
	"voucherpay/internal/ledger/store"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

// RegisterRequest creates the caller's user record
type RegisterRequest struct {
	FullName     string         `json:"full_name" validate:"required,max=120"`
	Email        string         `json:"email" validate:"omitempty,email"`
	Handle       string         `json:"handle"`
	BaseCurrency money.Currency `json:"base_currency" validate:"omitempty,len=3"`
}

// UpdateProfileRequest changes display fields. Empty fields are left alone.
type UpdateProfileRequest struct {
	FullName string `json:"full_name" validate:"max=120"`
	Email    string `json:"email" validate:"omitempty,email"`
	Handle   string `json:"handle"`
}

// Profile is a user with their wallet
type Profile struct {
	User   *domain.User   `json:"user"`
	Wallet *domain.Wallet `json:"wallet"`
}

// RegisterUser creates the user and an empty wallet for the verified caller.
func (s *Service) RegisterUser(ctx context.Context, caller Identity, req RegisterRequest) (*Profile, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if caller.UserID == "" || !isPhone(caller.Phone) {
		return nil, invalid("a verified user id and E.164 phone are required")
	}
	base, err := parseCurrency(req.BaseCurrency, money.Settlement)
	if err != nil {
		return nil, err
	}
	handle, err := checkHandle(req.Handle)
	if err != nil {
		return nil, err
	}

	var profile *Profile
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetUser(ctx, caller.UserID); err == nil {
			return ErrAlreadyRegistered
		} else if !database.IsNotFound(err) {
			return err
		}
		if _, err := tx.GetUserByPhone(ctx, caller.Phone); err == nil {
			return fmt.Errorf("phone %s: %w", caller.Phone, ErrAlreadyRegistered)
		} else if !database.IsNotFound(err) {
			return err
		}
		if err := handleFree(ctx, tx, handle, caller.UserID); err != nil {
			return err
		}

		u, err := domain.NewUser(caller.UserID, caller.Phone, req.FullName, base)
		if err != nil {
			return invalid("%v", err)
		}
		u.Email = req.Email
		u.Handle = handle

		wallet, err := walletFor(ctx, tx, u.Phone, u.ID, u.BaseCurrency)
		if err != nil {
			return err
		}
		wallet.UserID = u.ID

		if err := tx.CreateUser(ctx, u); err != nil {
			return registrationErr(err)
		}
		if err := tx.PutWallet(ctx, wallet); err != nil {
			return err
		}
		profile = &Profile{User: u, Wallet: wallet}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registering user: %w", err)
	}

	s.logger.Info("user registered",
		"user_id", profile.User.ID,
		"base_currency", profile.User.BaseCurrency,
	)
	return profile, nil
}

// GetProfile returns the caller's user record and wallet
func (s *Service) GetProfile(ctx context.Context, caller Identity) (*Profile, error) {
	var profile *Profile
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := s.caller(ctx, tx, caller)
		if err != nil {
			return err
		}
		w, err := walletFor(ctx, tx, u.Phone, u.ID, u.BaseCurrency)
		if err != nil {
			return err
		}
		profile = &Profile{User: u, Wallet: w}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// UpdateProfile changes the caller's name, email or handle
func (s *Service) UpdateProfile(ctx context.Context, caller Identity, req UpdateProfileRequest) (*domain.User, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	handle, err := checkHandle(req.Handle)
	if err != nil {
		return nil, err
	}

	var user *domain.User
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := s.caller(ctx, tx, caller)
		if err != nil {
			return err
		}
		if req.FullName != "" {
			u.FullName = req.FullName
		}
		if req.Email != "" {
			u.Email = req.Email
		}
		if handle != "" && handle != u.Handle {
			if err := handleFree(ctx, tx, handle, u.ID); err != nil {
				return err
			}
			u.Handle = handle
		}
		if err := tx.UpdateUser(ctx, u); err != nil {
			return registrationErr(err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return user, nil
}

// SetUserStatus blocks, bans or reactivates a user
func (s *Service) SetUserStatus(ctx context.Context, id string, status domain.UserStatus) (*domain.User, error) {
	if !status.Valid() {
		return nil, invalid("unknown status %q", status)
	}
	var user *domain.User
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		u.Status = status
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("setting user status: %w", err)
	}
	s.logger.Info("user status changed", "user_id", id, "status", status)
	return user, nil
}

// ListUsers lists every user for the admin console
func (s *Service) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.store.ListUsers(ctx)
}

func checkHandle(h string) (string, error) {
	if h == "" {
		return "", nil
	}
	handle := domain.NormalizeHandle(h)
	if !handlePattern.MatchString(handle) {
		return "", invalid("handle must be 3-30 letters, digits or underscores")
	}
	return handle, nil
}

func handleFree(ctx context.Context, tx store.Tx, handle, ownerID string) error {
	if handle == "" {
		return nil
	}
	existing, err := tx.GetUserByHandle(ctx, handle)
	if err == nil && existing.ID != ownerID {
		return fmt.Errorf("@%s: %w", handle, ErrHandleTaken)
	}
	if err != nil && !database.IsNotFound(err) {
		return err
	}
	return nil
}

// registrationErr maps a uniqueness violation raced past the reads above.
func registrationErr(err error) error {
	if errors.Is(err, database.ErrAlreadyExists) {
		return fmt.Errorf("%w: %v", ErrHandleTaken, err)
	}
	return err
}
