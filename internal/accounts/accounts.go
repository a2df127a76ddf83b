package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("account not found")

// AdminPermissions are the capability tags that mark an account as store staff.
var AdminPermissions = []string{"admin", "super_admin"}

type Profile struct {
	UID      string
	Name     string
	Email    string
	Document string
	Phone    string
}

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Profile(ctx context.Context, uid string) (Profile, error) {
	p := Profile{UID: uid}
	var name, cpf, phone *string
	err := r.DB.QueryRow(ctx,
		`SELECT name, email, cpf, phone FROM accounts WHERE uid::text = $1`, uid,
	).Scan(&name, &p.Email, &cpf, &phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	p.Name, p.Document, p.Phone = deref(name), deref(cpf), deref(phone)
	return p, nil
}

// AdminEmails lists the e-mail of every account holding an admin capability.
func (r *Repo) AdminEmails(ctx context.Context) ([]string, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT email FROM accounts WHERE permissions && $1::text[] AND email <> '' ORDER BY email`,
		AdminPermissions,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *Repo) IsAdmin(ctx context.Context, uid string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE uid::text = $1 AND permissions && $2::text[])`,
		uid, AdminPermissions,
	).Scan(&ok)
	return ok, err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
