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
	"github.com/emersion/go-vcard"
)

type listField struct {
	field      Field
	vcardField string
	name       string
}

var (
	companies = listField{FieldCompanies, vcard.FieldRole, "company"}
	emails    = listField{FieldEmails, vcard.FieldEmail, "email"}
	urls      = listField{FieldURLs, vcard.FieldURL, "url"}
)

func (m *Model) values(lf listField) []string {
	return m.card.Values(lf.vcardField)
}

func (m *Model) addValue(lf listField, value string) bool {
	m.log.Info().Str(lf.name, value).Msgf("Added new %s", lf.name)
	m.card.AddValue(lf.vcardField, value)
	m.emitUpdated(lf.field)
	return true
}

func (m *Model) removeValue(lf listField, value string) bool {
	if !m.card.RemoveValue(lf.vcardField, value) {
		m.log.Warn().Str(lf.name, value).Msgf("Unable to remove %s", lf.name)
		return false
	}
	m.log.Info().Str(lf.name, value).Msgf("Removed %s", lf.name)
	m.emitUpdated(lf.field)
	return true
}

func (m *Model) updateValue(lf listField, oldValue, value string) bool {
	if oldValue == value || !m.addValue(lf, value) {
		return false
	}
	m.removeValue(lf, oldValue)
	return true
}

func (m *Model) Companies() []string {
	return m.values(companies)
}

func (m *Model) AddCompany(company string) bool {
	return m.addValue(companies, company)
}

func (m *Model) RemoveCompany(company string) bool {
	return m.removeValue(companies, company)
}

func (m *Model) UpdateCompany(oldCompany, company string) bool {
	return m.updateValue(companies, oldCompany, company)
}

func (m *Model) Emails() []string {
	return m.values(emails)
}

func (m *Model) AddEmail(email string) bool {
	return m.addValue(emails, email)
}

func (m *Model) RemoveEmail(email string) bool {
	return m.removeValue(emails, email)
}

func (m *Model) UpdateEmail(oldEmail, email string) bool {
	return m.updateValue(emails, oldEmail, email)
}

func (m *Model) URLs() []string {
	return m.values(urls)
}

func (m *Model) AddURL(url string) bool {
	return m.addValue(urls, url)
}

func (m *Model) RemoveURL(url string) bool {
	return m.removeValue(urls, url)
}

func (m *Model) UpdateURL(oldURL, url string) bool {
	return m.updateValue(urls, oldURL, url)
}
