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
	"context"
)

// avatarPhotos returns the photo values that reference files in the avatar store.
func (m *Model) avatarPhotos() (photos, fileIDs []string) {
	for _, photo := range m.card.Photos() {
		if fileID, ok := m.avatars.FileID(photo); ok {
			photos = append(photos, photo)
			fileIDs = append(fileIDs, fileID)
		}
	}
	return
}

// Avatar returns the presentation URI of the contact's avatar, or an empty string if it has none.
// Photos added by other applications are not considered.
func (m *Model) Avatar() string {
	_, fileIDs := m.avatarPhotos()
	if len(fileIDs) == 0 {
		return ""
	}
	return m.avatars.PresentationURI(fileIDs[0])
}

// AvatarFileID returns the avatar store file ID of the current avatar.
func (m *Model) AvatarFileID() (string, bool) {
	_, fileIDs := m.avatarPhotos()
	if len(fileIDs) == 0 {
		return "", false
	}
	return fileIDs[0], true
}

// SetAvatar copies the image at path into the avatar store and makes it the contact's avatar.
// Previous avatars are removed from both the card and the store.
func (m *Model) SetAvatar(path string) bool {
	log := m.log.With().Str("action", "set avatar").Str("path", path).Logger()
	fileID, err := m.avatars.Import(log.WithContext(context.Background()), path)
	if err != nil {
		log.Warn().Err(err).Msg("Unable to copy avatar")
		return false
	}
	log.Info().
		Str("username", m.Username()).
		Str("file_id", fileID).
		Msg("Updating avatar")

	photos, oldFileIDs := m.avatarPhotos()
	for i, photo := range photos {
		if err = m.avatars.Remove(oldFileIDs[i]); err != nil {
			log.Warn().Err(err).Str("old_file_id", oldFileIDs[i]).Msg("Unable to remove old avatar")
		}
		m.card.RemovePhoto(photo)
	}
	m.card.AddPhoto(m.avatars.Reference(fileID))

	m.emitUpdated(FieldAvatar)
	return true
}
