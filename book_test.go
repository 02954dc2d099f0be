package main

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mau.fi/vcardbook/config"
	"go.mau.fi/vcardbook/database"
	"go.mau.fi/vcardbook/pkg/avatarstore"
	"go.mau.fi/vcardbook/pkg/vcardmodel"
)

func newTestBook(t *testing.T) *ContactBook {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.URI = "file:" + filepath.Join(dir, "contacts.db") + "?_txlock=immediate"
	cfg.Avatars.Path = filepath.Join(dir, "avatars")

	db, err := database.Open(cfg.Database.Type, cfg.Database.URI, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Upgrade(context.Background()))
	t.Cleanup(func() {
		_ = db.RawDB.Close()
	})
	avatars, err := avatarstore.New(cfg.Avatars.Path, cfg.Avatars.ProviderID, cfg.Avatars.Scheme)
	require.NoError(t, err)
	return NewContactBook(cfg, db, avatars, zerolog.Nop())
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "avatar.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 3, 3))))
	return path
}

func TestCreateAndReload(t *testing.T) {
	ctx := context.Background()
	cb := newTestBook(t)

	contact, err := cb.CreateContact(ctx, "Alice", "alice@example.org")
	require.NoError(t, err)
	changes, err := contact.Edit(ctx, func(model *vcardmodel.Model) {
		model.AddEmail("alice@example.org")
		model.AddCompany("Wonderland Inc.")
	})
	require.NoError(t, err)
	assert.Equal(t, []vcardmodel.Change{{Field: vcardmodel.FieldEmails}, {Field: vcardmodel.FieldCompanies}}, changes)

	// Drop the cache to force a reload from the database.
	cb.contacts = make(map[string]*Contact)
	reloaded, err := cb.GetContactByUID(ctx, contact.UID)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	info := reloaded.Info()
	assert.Equal(t, "Alice", info.Username)
	assert.Equal(t, []string{"sip:alice@example.org"}, info.SipAddresses)
	assert.Equal(t, []string{"alice@example.org"}, info.Emails)
	assert.Equal(t, []string{"Wonderland Inc."}, info.Companies)

	assert.Equal(t, float64(2), testutil.ToFloat64(cb.Metrics.saves.WithLabelValues("true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(cb.Metrics.updates.WithLabelValues(string(vcardmodel.FieldEmails))))
}

func TestEdit_NoChangeDoesNotSave(t *testing.T) {
	ctx := context.Background()
	cb := newTestBook(t)
	contact, err := cb.CreateContact(ctx, "Alice", "alice@example.org")
	require.NoError(t, err)
	updatedAt := contact.UpdatedAt

	changes, err := contact.Edit(ctx, func(model *vcardmodel.Model) {
		model.SetUsername("Alice")
		model.RemoveSipAddress("sip:alice@example.org")
	})
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, updatedAt, contact.UpdatedAt)
	assert.Equal(t, float64(1), testutil.ToFloat64(cb.Metrics.saves.WithLabelValues("true")))
	assert.Equal(t, len(vcardmodel.Fields), testutil.CollectAndCount(cb.Metrics.updates))
}

func TestGetContactByUID_Missing(t *testing.T) {
	cb := newTestBook(t)
	contact, err := cb.GetContactByUID(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, contact)
}

func TestImportExport(t *testing.T) {
	ctx := context.Background()
	cb := newTestBook(t)
	input := "BEGIN:VCARD\r\nVERSION:4.0\r\nUID:urn:uuid:11111111-2222-3333-4444-555555555555\r\nFN:Bob\r\nIMPP:sip:bob@example.org\r\nEND:VCARD\r\n" +
		"BEGIN:VCARD\r\nVERSION:4.0\r\nFN:No SIP\r\nEMAIL:nosip@example.org\r\nEND:VCARD\r\n"

	imported, skipped, err := cb.ImportContacts(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)

	contact, err := cb.GetContactByUID(ctx, "11111111-2222-3333-4444-555555555555")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Bob", contact.Info().Username)

	var out strings.Builder
	require.NoError(t, cb.ExportContacts(ctx, &out))
	assert.Contains(t, out.String(), "FN:Bob")
	assert.Contains(t, out.String(), "IMPP:sip:bob@example.org")

	assert.Error(t, cb.ExportContacts(ctx, &out, "missing"))
}

func TestDeleteContact(t *testing.T) {
	ctx := context.Background()
	cb := newTestBook(t)
	contact, err := cb.CreateContact(ctx, "Alice", "alice@example.org")
	require.NoError(t, err)
	_, err = contact.Edit(ctx, func(model *vcardmodel.Model) {
		require.True(t, model.SetAvatar(writeTestImage(t)))
	})
	require.NoError(t, err)
	var fileID string
	contact.View(func(model *vcardmodel.Model) {
		fileID, _ = model.AvatarFileID()
	})
	require.NotEmpty(t, fileID)

	require.NoError(t, cb.DeleteContact(ctx, contact))
	assert.NoFileExists(t, filepath.Join(cb.Avatars.Dir(), fileID))
	loaded, err := cb.GetContactByUID(ctx, contact.UID)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestImport_ReplacesOpenContact(t *testing.T) {
	ctx := context.Background()
	cb := newTestBook(t)
	contact, err := cb.CreateContact(ctx, "Alice", "alice@example.org")
	require.NoError(t, err)
	changes, unsubscribe := contact.Subscribe()
	defer unsubscribe()

	input := "BEGIN:VCARD\r\nVERSION:4.0\r\nUID:urn:uuid:" + contact.UID + "\r\nFN:Imported Alice\r\nIMPP:sip:alice@example.org\r\nEND:VCARD\r\n"
	imported, _, err := cb.ImportContacts(ctx, strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 1, imported)

	cached, err := cb.GetContactByUID(ctx, contact.UID)
	require.NoError(t, err)
	assert.Same(t, contact, cached)
	assert.Equal(t, "Imported Alice", contact.Info().Username)
	assert.Len(t, changes, len(vcardmodel.Fields))

	// Edits through the old handle apply to the imported record.
	_, err = contact.Edit(ctx, func(model *vcardmodel.Model) {
		model.AddEmail("alice@example.org")
	})
	require.NoError(t, err)
	row, err := cb.DB.Contact.GetByUID(ctx, contact.UID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Imported Alice", row.FullName)
	assert.Contains(t, row.VCard, "EMAIL:alice@example.org")
}

func TestEdit_DeletedContact(t *testing.T) {
	ctx := context.Background()
	cb := newTestBook(t)
	contact, err := cb.CreateContact(ctx, "Alice", "alice@example.org")
	require.NoError(t, err)
	require.NoError(t, cb.DeleteContact(ctx, contact))

	called := false
	_, err = contact.Edit(ctx, func(model *vcardmodel.Model) {
		called = true
		model.SetUsername("Ghost")
	})
	assert.ErrorIs(t, err, ErrContactDeleted)
	assert.False(t, called)
	assert.ErrorIs(t, contact.Save(ctx), ErrContactDeleted)
	assert.ErrorIs(t, cb.DeleteContact(ctx, contact), ErrContactDeleted)

	row, err := cb.DB.Contact.GetByUID(ctx, contact.UID)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	cb := newTestBook(t)
	contact, err := cb.CreateContact(ctx, "Alice", "alice@example.org")
	require.NoError(t, err)

	changes, unsubscribe := contact.Subscribe()
	_, err = contact.Edit(ctx, func(model *vcardmodel.Model) {
		model.SetUsername("Alicia")
		model.AddURL("https://alice.example.org")
	})
	require.NoError(t, err)
	assert.Equal(t, vcardmodel.Change{Field: vcardmodel.FieldUsername}, <-changes)
	assert.Equal(t, vcardmodel.Change{Field: vcardmodel.FieldURLs}, <-changes)

	unsubscribe()
	_, ok := <-changes
	assert.False(t, ok)
	unsubscribe()
}
