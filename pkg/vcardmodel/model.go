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

// Package vcardmodel exposes the fields of a single contact record to a presentation layer.
//
// A Model translates between plain strings and the vCard object model. Every mutation either
// succeeds completely and notifies the registered update handlers, or does nothing and logs why.
// A Model is not safe for concurrent use; the owner of the record must serialize access.
package vcardmodel

import (
	"github.com/rs/zerolog"

	"go.mau.fi/vcardbook/pkg/avatarstore"
	"go.mau.fi/vcardbook/pkg/contactcard"
)

type Field string

const (
	FieldUsername     Field = "username"
	FieldAvatar       Field = "avatar"
	FieldAddress      Field = "address"
	FieldSipAddresses Field = "sip_addresses"
	FieldCompanies    Field = "companies"
	FieldEmails       Field = "emails"
	FieldURLs         Field = "urls"
)

// Fields lists every field a Change can refer to.
var Fields = []Field{
	FieldUsername,
	FieldAvatar,
	FieldAddress,
	FieldSipAddresses,
	FieldCompanies,
	FieldEmails,
	FieldURLs,
}

// Change describes a successful mutation of the record.
type Change struct {
	Field Field `json:"field"`
}

type UpdateHandler func(change Change)

type Model struct {
	card    *contactcard.Card
	avatars *avatarstore.Store
	log     zerolog.Logger

	handlers []UpdateHandler
}

// New creates a model for the given card. The model does not take ownership of the card.
func New(card *contactcard.Card, avatars *avatarstore.Store, log zerolog.Logger) *Model {
	return &Model{
		card:    card,
		avatars: avatars,
		log:     log.With().Str("contact_uid", card.UID()).Logger(),
	}
}

// Card returns the record backing this model.
func (m *Model) Card() *contactcard.Card {
	return m.card
}

// OnUpdate registers a handler that is called after every successful mutation.
func (m *Model) OnUpdate(handler UpdateHandler) {
	m.handlers = append(m.handlers, handler)
}

func (m *Model) emitUpdated(field Field) {
	change := Change{Field: field}
	for _, handler := range m.handlers {
		handler(change)
	}
}

func (m *Model) Username() string {
	return m.card.FullName()
}

// SetUsername changes the full name. Empty and unchanged names are ignored.
func (m *Model) SetUsername(username string) bool {
	if username == "" || username == m.Username() {
		return false
	}
	m.card.SetFullName(username)
	m.emitUpdated(FieldUsername)
	return true
}
