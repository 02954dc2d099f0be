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

package vcardmodel

import (
	"errors"

	"go.mau.fi/vcardbook/pkg/contactcard"
)

func (m *Model) SipAddresses() []string {
	return m.card.SipAddresses()
}

func (m *Model) AddSipAddress(sipAddress string) bool {
	if err := m.card.AddSipAddress(sipAddress); err != nil {
		m.log.Warn().Err(err).Str("sip_address", sipAddress).Msg("Unable to add sip address")
		return false
	}
	m.log.Info().Str("sip_address", sipAddress).Msg("Added new sip address")
	m.emitUpdated(FieldSipAddresses)
	return true
}

// RemoveSipAddress removes the given address. The last remaining address can't be removed.
func (m *Model) RemoveSipAddress(sipAddress string) bool {
	if !m.card.HasSipAddress(sipAddress) {
		m.log.Warn().Str("sip_address", sipAddress).Msg("Unable to find sip address")
		return false
	}
	err := m.card.RemoveSipAddress(sipAddress)
	if errors.Is(err, contactcard.ErrNoSipAddress) {
		m.log.Warn().Str("sip_address", sipAddress).Msg("Unable to remove the only existing sip address")
		return false
	} else if err != nil {
		m.log.Warn().Err(err).Str("sip_address", sipAddress).Msg("Unable to remove sip address")
		return false
	}
	m.log.Info().Str("sip_address", sipAddress).Msg("Removed sip address")
	m.emitUpdated(FieldSipAddresses)
	return true
}

// UpdateSipAddress replaces oldAddress with sipAddress. The new address is added before the old one
// is removed, so the card always has at least one address.
func (m *Model) UpdateSipAddress(oldAddress, sipAddress string) bool {
	if oldAddress == sipAddress || !m.AddSipAddress(sipAddress) {
		return false
	}
	m.RemoveSipAddress(oldAddress)
	return true
}
