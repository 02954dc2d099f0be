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

// Package contactcard wraps a parsed vCard together with the SIP addresses of a contact.
package contactcard

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// ErrNoSipAddress is returned when a card would end up without any SIP address.
var ErrNoSipAddress = errors.New("contact card has no sip address")

// Card is a single contact record. The zero value is not usable, use New or Decode.
type Card struct {
	card vcard.Card
}

// New creates a vCard 4.0 record with the given full name and SIP addresses.
// At least one valid SIP address is required.
func New(fullName string, sipAddresses ...string) (*Card, error) {
	if len(sipAddresses) == 0 {
		return nil, ErrNoSipAddress
	}
	c := &Card{card: make(vcard.Card)}
	c.card.SetValue(vcard.FieldVersion, "4.0")
	c.card.SetValue(vcard.FieldUID, "urn:uuid:"+uuid.NewString())
	if fullName != "" {
		c.card.SetValue(vcard.FieldFormattedName, fullName)
	}
	for _, addr := range sipAddresses {
		if err := c.AddSipAddress(addr); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FromVCard wraps an already parsed vCard. The card must contain at least one SIP address.
func FromVCard(card vcard.Card) (*Card, error) {
	c := &Card{card: card}
	if len(c.SipAddresses()) == 0 {
		return nil, ErrNoSipAddress
	}
	if c.card.Value(vcard.FieldUID) == "" {
		c.card.SetValue(vcard.FieldUID, "urn:uuid:"+uuid.NewString())
	}
	if c.card.Get(vcard.FieldVersion) == nil {
		c.card.SetValue(vcard.FieldVersion, "4.0")
	}
	return c, nil
}

// Decode reads a single card from r.
func Decode(r io.Reader) (*Card, error) {
	card, err := vcard.NewDecoder(r).Decode()
	if err != nil {
		return nil, err
	}
	return FromVCard(card)
}

// DecodeAll reads every card in r. Cards without a SIP address are skipped and reported in skipped.
func DecodeAll(r io.Reader) (cards []*Card, skipped int, err error) {
	dec := vcard.NewDecoder(r)
	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return cards, skipped, nil
		} else if err != nil {
			return cards, skipped, fmt.Errorf("failed to decode card #%d: %w", len(cards)+skipped+1, err)
		}
		wrapped, err := FromVCard(card)
		if errors.Is(err, ErrNoSipAddress) {
			skipped++
			continue
		}
		cards = append(cards, wrapped)
	}
}

// Encode writes the card in vCard format.
func (c *Card) Encode(w io.Writer) error {
	return vcard.NewEncoder(w).Encode(c.card)
}

// String returns the encoded card, or an empty string if encoding fails.
func (c *Card) String() string {
	var buf strings.Builder
	if err := c.Encode(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// Raw returns the underlying vCard. Changes to it are reflected in the record.
func (c *Card) Raw() vcard.Card {
	return c.card
}

// UID returns the unique identifier of the card without the urn:uuid: prefix.
func (c *Card) UID() string {
	return strings.TrimPrefix(c.card.Value(vcard.FieldUID), "urn:uuid:")
}

func (c *Card) FullName() string {
	return c.card.PreferredValue(vcard.FieldFormattedName)
}

func (c *Card) SetFullName(name string) {
	c.card.SetValue(vcard.FieldFormattedName, name)
}

// Touch updates the REV field of the card.
func (c *Card) Touch(ts time.Time) {
	c.card.SetRevision(ts)
}

// Values returns the values of all entries of the given field in storage order.
func (c *Card) Values(field string) []string {
	fields := c.card[field]
	values := make([]string, len(fields))
	for i, f := range fields {
		values[i] = f.Value
	}
	return values
}

// AddValue appends a new entry to the given field.
func (c *Card) AddValue(field, value string) {
	c.card.Add(field, &vcard.Field{Value: value, Params: make(vcard.Params)})
}

// RemoveValue removes the first entry of the given field whose value is exactly value.
func (c *Card) RemoveValue(field, value string) bool {
	fields := c.card[field]
	idx := slices.IndexFunc(fields, func(f *vcard.Field) bool {
		return f.Value == value
	})
	if idx < 0 {
		return false
	}
	fields = slices.Delete(fields, idx, idx+1)
	if len(fields) == 0 {
		delete(c.card, field)
	} else {
		c.card[field] = fields
	}
	return true
}

// Photos returns the values of all PHOTO entries.
func (c *Card) Photos() []string {
	return c.Values(vcard.FieldPhoto)
}

func (c *Card) AddPhoto(value string) {
	c.AddValue(vcard.FieldPhoto, value)
}

func (c *Card) RemovePhoto(value string) bool {
	return c.RemoveValue(vcard.FieldPhoto, value)
}
