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

package contactcard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/emiago/sipgo/sip"
	"golang.org/x/exp/slices"
)

var ErrInvalidSipAddress = errors.New("invalid sip address")

func hasSipScheme(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "sip:") || strings.HasPrefix(lower, "sips:")
}

// ParseSipAddress parses a SIP URI. A missing sip: scheme is added automatically.
func ParseSipAddress(addr string) (*sip.Uri, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidSipAddress)
	} else if strings.ContainsAny(addr, " \t\r\n<>\"") {
		return nil, fmt.Errorf("%w: %q contains forbidden characters", ErrInvalidSipAddress, addr)
	}
	if !hasSipScheme(addr) {
		addr = "sip:" + addr
	}
	var uri sip.Uri
	if err := sip.ParseUri(addr, &uri); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSipAddress, err)
	}
	if uri.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidSipAddress, addr)
	}
	return &uri, nil
}

// NormalizeSipAddress returns the display form of addr, or addr itself if it can't be parsed.
func NormalizeSipAddress(addr string) string {
	uri, err := ParseSipAddress(addr)
	if err != nil {
		return addr
	}
	return uri.String()
}

func (c *Card) sipFieldIndex(addr string) int {
	normalized := NormalizeSipAddress(addr)
	return slices.IndexFunc(c.card[vcard.FieldIMPP], func(f *vcard.Field) bool {
		return hasSipScheme(f.Value) && (f.Value == addr || f.Value == normalized)
	})
}

// SipAddresses returns the display strings of all SIP addresses in storage order.
// IMPP entries with other schemes (xmpp:, tel: ...) are not SIP addresses and are skipped.
func (c *Card) SipAddresses() []string {
	var addrs []string
	for _, f := range c.card[vcard.FieldIMPP] {
		if hasSipScheme(f.Value) {
			addrs = append(addrs, f.Value)
		}
	}
	return addrs
}

// AddSipAddress parses addr and appends it to the card.
func (c *Card) AddSipAddress(addr string) error {
	uri, err := ParseSipAddress(addr)
	if err != nil {
		return err
	}
	c.AddValue(vcard.FieldIMPP, uri.String())
	return nil
}

// HasSipAddress checks whether the card contains addr.
func (c *Card) HasSipAddress(addr string) bool {
	return c.sipFieldIndex(addr) >= 0
}

// RemoveSipAddress removes the first entry matching addr. It refuses to remove the last SIP address.
func (c *Card) RemoveSipAddress(addr string) error {
	idx := c.sipFieldIndex(addr)
	if idx < 0 {
		return fmt.Errorf("sip address %q not found", addr)
	} else if len(c.SipAddresses()) <= 1 {
		return ErrNoSipAddress
	}
	fields := slices.Delete(c.card[vcard.FieldIMPP], idx, idx+1)
	c.card[vcard.FieldIMPP] = fields
	return nil
}
