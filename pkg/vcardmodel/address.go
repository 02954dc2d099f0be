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

// Address is a structured postal address. Its keys are not defined yet.
type Address map[string]string

// Address always returns an empty address for now.
func (m *Model) Address() Address {
	return Address{}
}

// SetAddress does not modify the record yet and always reports failure.
func (m *Model) SetAddress(address Address) bool {
	m.log.Debug().Int("keys", len(address)).Msg("Ignoring address update, structured addresses are not supported")
	return false
}
