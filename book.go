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
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"go.mau.fi/vcardbook/config"
	"go.mau.fi/vcardbook/database"
	"go.mau.fi/vcardbook/pkg/avatarstore"
	"go.mau.fi/vcardbook/pkg/contactcard"
	"go.mau.fi/vcardbook/pkg/vcardmodel"
)

type ContactBook struct {
	Config  *config.Config
	DB      *database.Database
	Avatars *avatarstore.Store
	Metrics *MetricsHandler
	Log     zerolog.Logger

	contacts     map[string]*Contact
	contactsLock sync.Mutex
}

func NewContactBook(cfg *config.Config, db *database.Database, avatars *avatarstore.Store, log zerolog.Logger) *ContactBook {
	return &ContactBook{
		Config:  cfg,
		DB:      db,
		Avatars: avatars,
		Metrics: NewMetricsHandler(cfg.Metrics.Listen, log.With().Str("component", "metrics").Logger(), db),
		Log:     log,

		contacts: make(map[string]*Contact),
	}
}

func (cb *ContactBook) loadContact(dbContact *database.Contact) (*Contact, error) {
	card, err := contactcard.Decode(strings.NewReader(dbContact.VCard))
	if err != nil {
		return nil, fmt.Errorf("failed to decode vcard of %s: %w", dbContact.UID, err)
	}
	contact := cb.newContact(dbContact, card)
	cb.contacts[contact.UID] = contact
	return contact, nil
}

// GetContactByUID returns the contact with the given UID, or nil if it doesn't exist.
func (cb *ContactBook) GetContactByUID(ctx context.Context, uid string) (*Contact, error) {
	cb.contactsLock.Lock()
	defer cb.contactsLock.Unlock()

	contact, ok := cb.contacts[uid]
	if ok {
		return contact, nil
	}
	dbContact, err := cb.DB.Contact.GetByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact from database: %w", err)
	} else if dbContact == nil {
		return nil, nil
	}
	return cb.loadContact(dbContact)
}

func (cb *ContactBook) contactsFromDB(dbContacts []*database.Contact) ([]*Contact, error) {
	cb.contactsLock.Lock()
	defer cb.contactsLock.Unlock()
	contacts := make([]*Contact, 0, len(dbContacts))
	for _, dbContact := range dbContacts {
		contact, ok := cb.contacts[dbContact.UID]
		if !ok {
			var err error
			contact, err = cb.loadContact(dbContact)
			if err != nil {
				cb.Log.Warn().Err(err).Msg("Skipping unreadable contact")
				continue
			}
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

func (cb *ContactBook) GetAllContacts(ctx context.Context) ([]*Contact, error) {
	dbContacts, err := cb.DB.Contact.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts from database: %w", err)
	}
	return cb.contactsFromDB(dbContacts)
}

func (cb *ContactBook) SearchContacts(ctx context.Context, namePrefix string) ([]*Contact, error) {
	dbContacts, err := cb.DB.Contact.Search(ctx, namePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to search contacts: %w", err)
	}
	return cb.contactsFromDB(dbContacts)
}

func (cb *ContactBook) addCard(ctx context.Context, card *contactcard.Card) (*Contact, error) {
	cb.contactsLock.Lock()
	defer cb.contactsLock.Unlock()
	if existing, ok := cb.contacts[card.UID()]; ok {
		return existing, existing.replaceCard(ctx, card)
	}
	dbContact := cb.DB.Contact.New()
	dbContact.UID = card.UID()
	contact := cb.newContact(dbContact, card)
	if err := contact.Save(ctx); err != nil {
		return nil, err
	}
	cb.contacts[contact.UID] = contact
	return contact, nil
}

// CreateContact creates and stores a new contact.
func (cb *ContactBook) CreateContact(ctx context.Context, fullName string, sipAddresses ...string) (*Contact, error) {
	card, err := contactcard.New(fullName, sipAddresses...)
	if err != nil {
		return nil, err
	}
	contact, err := cb.addCard(ctx, card)
	if err != nil {
		return nil, err
	}
	contact.log.Info().Str("username", fullName).Msg("Created contact")
	return contact, nil
}

// ImportContacts stores every card in r. Cards without a SIP address are skipped.
// Cards whose UID already exists replace the stored record, open handles to it see the new record.
func (cb *ContactBook) ImportContacts(ctx context.Context, r io.Reader) (imported, skipped int, err error) {
	cards, skipped, err := contactcard.DecodeAll(r)
	if err != nil {
		return 0, skipped, err
	}
	for _, card := range cards {
		if _, err = cb.addCard(ctx, card); err != nil {
			return imported, skipped, err
		}
		imported++
	}
	cb.Log.Info().Int("imported", imported).Int("skipped", skipped).Msg("Imported contacts")
	return imported, skipped, nil
}

// ExportContacts writes the given contacts, or all contacts if no UIDs are given, in vCard format.
func (cb *ContactBook) ExportContacts(ctx context.Context, w io.Writer, uids ...string) error {
	var contacts []*Contact
	if len(uids) == 0 {
		var err error
		contacts, err = cb.GetAllContacts(ctx)
		if err != nil {
			return err
		}
	} else {
		for _, uid := range uids {
			contact, err := cb.GetContactByUID(ctx, uid)
			if err != nil {
				return err
			} else if contact == nil {
				return fmt.Errorf("contact %s not found", uid)
			}
			contacts = append(contacts, contact)
		}
	}
	for _, contact := range contacts {
		var err error
		contact.View(func(model *vcardmodel.Model) {
			err = model.Card().Encode(w)
		})
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", contact.UID, err)
		}
	}
	return nil
}

// DeleteContact removes a contact and its avatar.
func (cb *ContactBook) DeleteContact(ctx context.Context, contact *Contact) error {
	cb.contactsLock.Lock()
	defer cb.contactsLock.Unlock()
	contact.lock.Lock()
	defer contact.lock.Unlock()
	if contact.deleted {
		return ErrContactDeleted
	}
	if err := contact.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	contact.deleted = true
	delete(cb.contacts, contact.UID)
	if fileID, ok := contact.model.AvatarFileID(); ok {
		if err := cb.Avatars.Remove(fileID); err != nil {
			contact.log.Warn().Err(err).Str("file_id", fileID).Msg("Unable to remove avatar of deleted contact")
		}
	}
	contact.log.Info().Msg("Deleted contact")
	return nil
}
