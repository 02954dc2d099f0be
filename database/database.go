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
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"go.mau.fi/vcardbook/database/upgrades"
)

type Database struct {
	*dbutil.Database

	Contact *ContactQuery
}

func New(baseDB *dbutil.Database, log zerolog.Logger) *Database {
	db := &Database{Database: baseDB}
	db.UpgradeTable = upgrades.Table
	db.Log = dbutil.ZeroLogger(log)
	db.Contact = &ContactQuery{
		QueryHelper: dbutil.MakeQueryHelper(db.Database, func(qh *dbutil.QueryHelper[*Contact]) *Contact {
			return &Contact{qh: qh}
		}),
		db: db.Database,
	}
	return db
}

// Open connects to the database with the given dialect (sqlite3 or postgres).
func Open(dialect, uri string, log zerolog.Logger) (*Database, error) {
	baseDB, err := dbutil.NewWithDialect(uri, dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	return New(baseDB, log), nil
}
