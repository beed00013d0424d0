package transfer

import (
	"context"
	"strings"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/wallet"
)

// SaveContact adds or refreshes an address book entry of userID.
func (s *Service) SaveContact(ctx context.Context, userID string, c ledger.Contact) (ledger.Contact, error) {
	c.CVU = strings.TrimSpace(c.CVU)
	if !wallet.ValidCVU(c.CVU) {
		return ledger.Contact{}, ledger.ErrInvalidCVU
	}
	c.UserID = userID
	c.Alias = strings.ToLower(strings.TrimSpace(c.Alias))
	c.Name = strings.TrimSpace(c.Name)
	c.LastUsed = s.now().UTC()
	favorite := c.IsFavorite

	var out ledger.Contact
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		saved, err := tx.UpsertContact(ctx, c)
		if err != nil {
			return err
		}
		if favorite && !saved.IsFavorite {
			if err := tx.SetFavorite(ctx, userID, c.CVU, true); err != nil {
				return err
			}
			saved.IsFavorite = true
		}
		out = saved
		return nil
	})
	return out, err
}

func (s *Service) DeleteContact(ctx context.Context, userID, cvu string) error {
	return s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.DeleteContact(ctx, userID, strings.TrimSpace(cvu))
	})
}

// ToggleFavorite flips the favorite flag and returns the updated contact.
func (s *Service) ToggleFavorite(ctx context.Context, userID, cvu string) (ledger.Contact, error) {
	var out ledger.Contact
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		c, err := tx.Contact(ctx, userID, strings.TrimSpace(cvu))
		if err != nil {
			return err
		}
		if err := tx.SetFavorite(ctx, userID, c.CVU, !c.IsFavorite); err != nil {
			return err
		}
		c.IsFavorite = !c.IsFavorite
		out = c
		return nil
	})
	return out, err
}

// GetContacts lists favorites first, then the most recently used.
func (s *Service) GetContacts(ctx context.Context, userID string) ([]ledger.Contact, error) {
	var out []ledger.Contact
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.Contacts(ctx, userID)
		return err
	})
	return out, err
}
