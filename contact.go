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

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"go.mau.fi/vcardbook/database"
	"go.mau.fi/vcardbook/pkg/contactcard"
	"go.mau.fi/vcardbook/pkg/vcardmodel"
)

// ErrContactDeleted is returned when editing or saving a contact that has been deleted.
var ErrContactDeleted = errors.New("contact has been deleted")

// Contact owns one contact record and the model used to edit it.
// All access to the model goes through Edit or View, which serialize callers.
// There is at most one Contact per UID, so every handle sees the same record.
type Contact struct {
	*database.Contact

	book *ContactBook
	log  zerolog.Logger

	card  *contactcard.Card
	model *vcardmodel.Model

	lock    sync.Mutex
	pending []vcardmodel.Change
	deleted bool

	subscribers     map[chan vcardmodel.Change]struct{}
	subscribersLock sync.Mutex
}

type ContactInfo struct {
	UID          string             `json:"uid"`
	Username     string             `json:"username"`
	Avatar       string             `json:"avatar"`
	SipAddresses []string           `json:"sip_addresses"`
	Companies    []string           `json:"companies"`
	Emails       []string           `json:"emails"`
	URLs         []string           `json:"urls"`
	Address      vcardmodel.Address `json:"address"`
	UpdatedAt    int64              `json:"updated_at"`
}

func (cb *ContactBook) newContact(dbContact *database.Contact, card *contactcard.Card) *Contact {
	contact := &Contact{
		Contact: dbContact,
		book:    cb,
		log:     cb.Log.With().Str("contact_uid", dbContact.UID).Logger(),

		subscribers: make(map[chan vcardmodel.Change]struct{}),
	}
	contact.setCard(card)
	return contact
}

func (contact *Contact) setCard(card *contactcard.Card) {
	contact.card = card
	contact.model = vcardmodel.New(card, contact.book.Avatars, contact.log)
	contact.model.OnUpdate(contact.handleUpdate)
}

// replaceCard swaps the whole record, e.g. when the same UID is imported again.
// Subscribers get a change for every field.
func (contact *Contact) replaceCard(ctx context.Context, card *contactcard.Card) error {
	contact.lock.Lock()
	defer contact.lock.Unlock()
	if contact.deleted {
		return ErrContactDeleted
	}
	oldFileID, hadAvatar := contact.model.AvatarFileID()
	contact.setCard(card)
	if err := contact.save(ctx); err != nil {
		return err
	}
	if newFileID, ok := contact.model.AvatarFileID(); hadAvatar && (!ok || newFileID != oldFileID) {
		if err := contact.book.Avatars.Remove(oldFileID); err != nil {
			contact.log.Warn().Err(err).Str("file_id", oldFileID).Msg("Unable to remove avatar of replaced record")
		}
	}
	changes := make([]vcardmodel.Change, len(vcardmodel.Fields))
	for i, field := range vcardmodel.Fields {
		changes[i] = vcardmodel.Change{Field: field}
	}
	contact.broadcast(changes)
	contact.log.Info().Msg("Replaced contact record")
	return nil
}

func (contact *Contact) handleUpdate(change vcardmodel.Change) {
	contact.pending = append(contact.pending, change)
	contact.book.Metrics.TrackUpdate(change.Field)
}

// Edit runs fn with exclusive access to the contact's model. If fn changed the record,
// the record is saved and the changes are sent to subscribers. fn is not called for deleted contacts.
func (contact *Contact) Edit(ctx context.Context, fn func(model *vcardmodel.Model)) ([]vcardmodel.Change, error) {
	contact.lock.Lock()
	defer contact.lock.Unlock()
	if contact.deleted {
		return nil, ErrContactDeleted
	}
	contact.pending = nil
	fn(contact.model)
	changes := contact.pending
	contact.pending = nil
	if len(changes) == 0 {
		return nil, nil
	}
	err := contact.save(ctx)
	contact.broadcast(changes)
	return changes, err
}

// View runs fn with exclusive access to the contact's model. fn must not modify the record.
func (contact *Contact) View(fn func(model *vcardmodel.Model)) {
	contact.lock.Lock()
	defer contact.lock.Unlock()
	fn(contact.model)
}

func (contact *Contact) Info() (info ContactInfo) {
	contact.View(func(model *vcardmodel.Model) {
		info = ContactInfo{
			UID:          contact.UID,
			Username:     model.Username(),
			Avatar:       model.Avatar(),
			SipAddresses: model.SipAddresses(),
			Companies:    model.Companies(),
			Emails:       model.Emails(),
			URLs:         model.URLs(),
			Address:      model.Address(),
			UpdatedAt:    contact.UpdatedAt.UnixMilli(),
		}
	})
	return
}

// EncodedVCard returns the record in vCard format.
func (contact *Contact) EncodedVCard() (encoded string) {
	contact.View(func(model *vcardmodel.Model) {
		encoded = model.Card().String()
	})
	return
}

func (contact *Contact) save(ctx context.Context) error {
	if contact.deleted {
		return ErrContactDeleted
	}
	now := time.Now()
	contact.card.Touch(now)
	var buf strings.Builder
	if err := contact.card.Encode(&buf); err != nil {
		contact.book.Metrics.TrackSave(false)
		return fmt.Errorf("failed to encode vcard: %w", err)
	}
	contact.FullName = contact.card.FullName()
	contact.VCard = buf.String()
	contact.UpdatedAt = now
	err := contact.Upsert(ctx)
	contact.book.Metrics.TrackSave(err == nil)
	if err != nil {
		contact.log.Err(err).Msg("Failed to save contact")
		return fmt.Errorf("failed to save contact: %w", err)
	}
	contact.log.Debug().Msg("Saved contact")
	return nil
}

// Save stores the current state of the record.
func (contact *Contact) Save(ctx context.Context) error {
	contact.lock.Lock()
	defer contact.lock.Unlock()
	return contact.save(ctx)
}
