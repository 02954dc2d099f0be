// vcardbook - A vCard contact book with SIP addresses.
// Copyright (C) 2024 The vcardbook Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.mau.fi/util/dbutil"
)

const (
	getAllContactsQuery = `
		SELECT uid, full_name, vcard, updated_at FROM contact
	`
	getContactByUIDQuery = getAllContactsQuery + `WHERE uid=$1`
	searchContactsQuery  = getAllContactsQuery + `WHERE LOWER(full_name) LIKE $1 ORDER BY full_name`
	getAllContactsSorted = getAllContactsQuery + `ORDER BY full_name`
	countContactsQuery   = `SELECT COUNT(*) FROM contact`
	upsertContactQuery   = `
		INSERT INTO contact (uid, full_name, vcard, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uid) DO UPDATE SET
			full_name=excluded.full_name,
			vcard=excluded.vcard,
			updated_at=excluded.updated_at
	`
	deleteContactQuery = `DELETE FROM contact WHERE uid=$1`
)

type ContactQuery struct {
	*dbutil.QueryHelper[*Contact]
	db *dbutil.Database
}

func (cq *ContactQuery) GetAll(ctx context.Context) ([]*Contact, error) {
	return cq.QueryMany(ctx, getAllContactsSorted)
}

// GetByUID returns the contact with the given UID, or nil if it doesn't exist.
func (cq *ContactQuery) GetByUID(ctx context.Context, uid string) (*Contact, error) {
	contact, err := cq.QueryOne(ctx, getContactByUIDQuery, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return contact, err
}

// Search finds contacts whose name starts with the given prefix, case-insensitively.
func (cq *ContactQuery) Search(ctx context.Context, namePrefix string) ([]*Contact, error) {
	// LIKE wildcards in the prefix are dropped rather than escaped
	pattern := strings.NewReplacer(`%`, ``, `_`, ``).Replace(strings.ToLower(namePrefix))
	return cq.QueryMany(ctx, searchContactsQuery, pattern+"%")
}

func (cq *ContactQuery) Count(ctx context.Context) (count int, err error) {
	err = cq.db.QueryRow(ctx, countContactsQuery).Scan(&count)
	return
}

type Contact struct {
	qh *dbutil.QueryHelper[*Contact]

	UID       string
	FullName  string
	VCard     string
	UpdatedAt time.Time
}

func (c *Contact) Scan(row dbutil.Scannable) (*Contact, error) {
	var updatedAt int64
	err := row.Scan(&c.UID, &c.FullName, &c.VCard, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.UpdatedAt = time.UnixMilli(updatedAt)
	return c, nil
}

func (c *Contact) Upsert(ctx context.Context) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	return c.qh.Exec(ctx, upsertContactQuery, c.UID, c.FullName, c.VCard, c.UpdatedAt.UnixMilli())
}

func (c *Contact) Delete(ctx context.Context) error {
	return c.qh.Exec(ctx, deleteContactQuery, c.UID)
}
