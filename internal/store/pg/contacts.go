package pg

import (
	"context"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
)

const contactColumns = `user_id, cvu, alias, name, is_favorite, last_used, created_at`

func scanContact(row scanner) (ledger.Contact, error) {
	var c ledger.Contact
	err := row.Scan(&c.UserID, &c.CVU, &c.Alias, &c.Name, &c.IsFavorite, &c.LastUsed, &c.CreatedAt)
	return c, err
}

// UpsertContact keeps stored alias and name when the new ones are empty;
// favorite flag and created_at survive the update.
func (t *pgTx) UpsertContact(ctx context.Context, c ledger.Contact) (ledger.Contact, error) {
	if err := t.writable(); err != nil {
		return ledger.Contact{}, err
	}
	c.LastUsed = t.stamp(c.LastUsed)
	out, err := scanContact(t.tx.QueryRowContext(ctx, `
		insert into contacts(user_id, cvu, alias, name, is_favorite, last_used, created_at)
		values ($1,$2,$3,$4,false,$5,$5)
		on conflict (user_id, cvu) do update set
			alias = case when excluded.alias = '' then contacts.alias else excluded.alias end,
			name = case when excluded.name = '' then contacts.name else excluded.name end,
			last_used = excluded.last_used
		returning `+contactColumns,
		c.UserID, c.CVU, c.Alias, c.Name, c.LastUsed))
	if err != nil {
		return ledger.Contact{}, mapErr(err)
	}
	return out, nil
}

func (t *pgTx) Contact(ctx context.Context, userID, cvu string) (ledger.Contact, error) {
	c, err := scanContact(t.tx.QueryRowContext(ctx,
		`select `+contactColumns+` from contacts where user_id = $1 and cvu = $2`, userID, cvu))
	if err != nil {
		return ledger.Contact{}, notFound(err, "contact")
	}
	return c, nil
}

func (t *pgTx) Contacts(ctx context.Context, userID string) ([]ledger.Contact, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select `+contactColumns+` from contacts
		where user_id = $1
		order by is_favorite desc, last_used desc, cvu
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteContact(ctx context.Context, userID, cvu string) error {
	n, err := t.exec(ctx, `delete from contacts where user_id = $1 and cvu = $2`, userID, cvu)
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound.Withf("contact not found")
	}
	return nil
}

func (t *pgTx) SetFavorite(ctx context.Context, userID, cvu string, favorite bool) error {
	n, err := t.exec(ctx, `update contacts set is_favorite = $3 where user_id = $1 and cvu = $2`, userID, cvu, favorite)
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound.Withf("contact not found")
	}
	return nil
}
