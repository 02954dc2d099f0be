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

// Package avatarstore manages the directory where contact avatars are kept.
package avatarstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/facebookgo/atomicfile"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultScheme     = "vcardbook:/"
	DefaultProviderID = "avatar"
)

var (
	ErrNotImage      = errors.New("file is not an image")
	ErrInvalidFileID = errors.New("invalid avatar file id")
)

// Store copies avatar images into a single directory and maps them to URIs.
//
// Photo entries inside vCards reference stored files with the private scheme
// (e.g. vcardbook:/<file id>), while the presentation layer gets image://<provider>/<file id>.
type Store struct {
	dir        string
	providerID string
	scheme     string
}

// New creates the avatar directory if necessary. Empty providerID and scheme fall back to the defaults.
func New(dir, providerID, scheme string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("avatar directory not set")
	}
	if providerID == "" {
		providerID = DefaultProviderID
	}
	if scheme == "" {
		scheme = DefaultScheme
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create avatar directory: %w", err)
	}
	return &Store{dir: dir, providerID: providerID, scheme: scheme}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Scheme() string {
	return s.scheme
}

func (s *Store) ProviderID() string {
	return s.providerID
}

func validFileID(fileID string) bool {
	return fileID != "" &&
		fileID != "." && fileID != ".." &&
		!strings.ContainsAny(fileID, `/\`) &&
		filepath.Base(fileID) == fileID
}

// Path returns the location of the given avatar file on disk.
func (s *Store) Path(fileID string) (string, error) {
	if !validFileID(fileID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileID, fileID)
	}
	return filepath.Join(s.dir, fileID), nil
}

// PresentationURI returns the URI the presentation layer uses to display the avatar.
func (s *Store) PresentationURI(fileID string) string {
	return fmt.Sprintf("image://%s/%s", s.providerID, fileID)
}

// Reference returns the photo value stored in the vCard for the given avatar file.
func (s *Store) Reference(fileID string) string {
	return s.scheme + fileID
}

// FileID extracts the avatar file ID from a vCard photo value.
// ok is false for photos that were not added through this store.
func (s *Store) FileID(photo string) (fileID string, ok bool) {
	if !strings.HasPrefix(photo, s.scheme) {
		return "", false
	}
	return photo[len(s.scheme):], true
}

// IsImage checks that path is a readable regular file with image contents.
func (s *Store) IsImage(path string) (mime *mimetype.MIME, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	} else if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotImage, path)
	}
	mime, err = mimetype.DetectFile(path)
	if err != nil {
		return nil, err
	}
	for m := mime; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return mime, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has type %s", ErrNotImage, path, mime.String())
}

func (s *Store) newFileID(srcPath string, mime *mimetype.MIME) string {
	ext := strings.TrimPrefix(filepath.Ext(srcPath), ".")
	if ext == "" {
		ext = strings.TrimPrefix(mime.Extension(), ".")
	}
	return fmt.Sprintf("%s.%s", uuid.NewString(), ext)
}

// Import copies the image at srcPath into the store under a new unique name.
func (s *Store) Import(ctx context.Context, srcPath string) (string, error) {
	mime, err := s.IsImage(srcPath)
	if err != nil {
		return "", err
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source image: %w", err)
	}
	defer src.Close()

	fileID := s.newFileID(srcPath, mime)
	dest, err := s.Path(fileID)
	if err != nil {
		return "", err
	}
	out, err := atomicfile.New(dest, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create avatar file: %w", err)
	}
	size, err := io.Copy(out, src)
	if err != nil {
		_ = out.Abort()
		return "", fmt.Errorf("failed to copy avatar: %w", err)
	}
	if err = out.Close(); err != nil {
		return "", fmt.Errorf("failed to save avatar: %w", err)
	}
	zerolog.Ctx(ctx).Debug().
		Str("source", srcPath).
		Str("file_id", fileID).
		Str("mime", mime.String()).
		Str("size", humanize.Bytes(uint64(size))).
		Msg("Copied avatar into store")
	return fileID, nil
}

// Open opens a stored avatar for reading.
func (s *Store) Open(fileID string) (*os.File, error) {
	path, err := s.Path(fileID)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes a stored avatar.
func (s *Store) Remove(fileID string) error {
	path, err := s.Path(fileID)
	if err != nil {
		return err
	}
	return os.Remove(path)
}
