package vcardmodel_test

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mau.fi/vcardbook/pkg/avatarstore"
	"go.mau.fi/vcardbook/pkg/contactcard"
	"go.mau.fi/vcardbook/pkg/vcardmodel"
)

type changeRecorder struct {
	changes []vcardmodel.Change
}

func (cr *changeRecorder) handle(change vcardmodel.Change) {
	cr.changes = append(cr.changes, change)
}

func (cr *changeRecorder) reset() {
	cr.changes = nil
}

func newModel(t *testing.T) (*vcardmodel.Model, *avatarstore.Store, *changeRecorder) {
	t.Helper()
	card, err := contactcard.New("Alice", "sip:alice@example.org")
	require.NoError(t, err)
	store, err := avatarstore.New(filepath.Join(t.TempDir(), "avatars"), "", "")
	require.NoError(t, err)
	model := vcardmodel.New(card, store, zerolog.Nop())
	recorder := &changeRecorder{}
	model.OnUpdate(recorder.handle)
	return model, store, recorder
}

func writeImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 2, 2))))
	return path
}

func TestSetUsername(t *testing.T) {
	model, _, recorder := newModel(t)

	assert.False(t, model.SetUsername(""))
	assert.False(t, model.SetUsername("Alice"))
	assert.Empty(t, recorder.changes)
	assert.Equal(t, "Alice", model.Username())

	assert.True(t, model.SetUsername("Alice Liddell"))
	assert.Equal(t, "Alice Liddell", model.Username())
	assert.Equal(t, []vcardmodel.Change{{Field: vcardmodel.FieldUsername}}, recorder.changes)
}

func TestSipAddresses(t *testing.T) {
	model, _, recorder := newModel(t)

	assert.True(t, model.AddSipAddress("alice@work.example.org"))
	assert.Equal(t, []string{"sip:alice@example.org", "sip:alice@work.example.org"}, model.SipAddresses())
	assert.Len(t, recorder.changes, 1)

	assert.False(t, model.AddSipAddress(""))
	assert.Len(t, recorder.changes, 1)

	assert.True(t, model.RemoveSipAddress("sip:alice@example.org"))
	assert.Equal(t, []string{"sip:alice@work.example.org"}, model.SipAddresses())
	assert.Len(t, recorder.changes, 2)
}

func TestRemoveSipAddress_Rejected(t *testing.T) {
	model, _, recorder := newModel(t)

	assert.False(t, model.RemoveSipAddress("sip:alice@example.org"), "the only address must not be removed")
	assert.False(t, model.RemoveSipAddress("sip:nobody@example.org"))
	assert.Equal(t, []string{"sip:alice@example.org"}, model.SipAddresses())
	assert.Empty(t, recorder.changes)
}

func TestUpdateSipAddress(t *testing.T) {
	model, _, recorder := newModel(t)

	assert.False(t, model.UpdateSipAddress("sip:alice@example.org", "sip:alice@example.org"))
	assert.False(t, model.UpdateSipAddress("sip:alice@example.org", "not valid"))
	assert.Equal(t, []string{"sip:alice@example.org"}, model.SipAddresses())
	assert.Empty(t, recorder.changes)

	assert.True(t, model.UpdateSipAddress("sip:alice@example.org", "sip:alice@new.example.org"))
	assert.Equal(t, []string{"sip:alice@new.example.org"}, model.SipAddresses())
	assert.Len(t, recorder.changes, 2)
}

func TestUpdateSipAddress_MissingOld(t *testing.T) {
	model, _, _ := newModel(t)

	// The add already happened, so the update is reported as successful.
	assert.True(t, model.UpdateSipAddress("sip:nobody@example.org", "sip:alice@new.example.org"))
	assert.Equal(t, []string{"sip:alice@example.org", "sip:alice@new.example.org"}, model.SipAddresses())
}

type listAccessors struct {
	name   string
	get    func(*vcardmodel.Model) []string
	add    func(*vcardmodel.Model, string) bool
	remove func(*vcardmodel.Model, string) bool
	update func(*vcardmodel.Model, string, string) bool
	field  vcardmodel.Field
}

var listFields = []listAccessors{
	{"companies", (*vcardmodel.Model).Companies, (*vcardmodel.Model).AddCompany, (*vcardmodel.Model).RemoveCompany, (*vcardmodel.Model).UpdateCompany, vcardmodel.FieldCompanies},
	{"emails", (*vcardmodel.Model).Emails, (*vcardmodel.Model).AddEmail, (*vcardmodel.Model).RemoveEmail, (*vcardmodel.Model).UpdateEmail, vcardmodel.FieldEmails},
	{"urls", (*vcardmodel.Model).URLs, (*vcardmodel.Model).AddURL, (*vcardmodel.Model).RemoveURL, (*vcardmodel.Model).UpdateURL, vcardmodel.FieldURLs},
}

func TestListFields(t *testing.T) {
	for _, lf := range listFields {
		t.Run(lf.name, func(t *testing.T) {
			model, _, recorder := newModel(t)
			assert.Empty(t, lf.get(model))

			assert.True(t, lf.add(model, "one"))
			assert.True(t, lf.add(model, "two"))
			assert.True(t, lf.add(model, "one"))
			assert.Equal(t, []string{"one", "two", "one"}, lf.get(model))
			assert.Len(t, recorder.changes, 3)
			assert.Equal(t, lf.field, recorder.changes[0].Field)

			recorder.reset()
			assert.False(t, lf.remove(model, "three"))
			assert.Equal(t, []string{"one", "two", "one"}, lf.get(model))
			assert.Empty(t, recorder.changes)

			assert.True(t, lf.remove(model, "one"))
			assert.Equal(t, []string{"two", "one"}, lf.get(model))

			recorder.reset()
			assert.False(t, lf.update(model, "two", "two"))
			assert.Empty(t, recorder.changes)
			assert.True(t, lf.update(model, "two", "deux"))
			assert.Equal(t, []string{"one", "deux"}, lf.get(model))
			assert.Len(t, recorder.changes, 2)

			assert.True(t, lf.remove(model, "one"))
			assert.True(t, lf.remove(model, "deux"))
			assert.Empty(t, lf.get(model), "list fields have no minimum count")
		})
	}
}

func TestAvatar(t *testing.T) {
	model, store, recorder := newModel(t)
	assert.Equal(t, "", model.Avatar())

	model.Card().AddPhoto("https://example.org/alice.png")
	assert.Equal(t, "", model.Avatar(), "photos from other sources aren't avatars")

	assert.True(t, model.SetAvatar(writeImage(t, "first.png")))
	firstURI := model.Avatar()
	require.True(t, strings.HasPrefix(firstURI, "image://avatar/"), firstURI)
	assert.True(t, strings.HasSuffix(firstURI, ".png"), firstURI)
	firstID, ok := model.AvatarFileID()
	require.True(t, ok)
	assert.FileExists(t, filepath.Join(store.Dir(), firstID))

	assert.True(t, model.SetAvatar(writeImage(t, "second.png")))
	assert.NotEqual(t, firstURI, model.Avatar())
	assert.NoFileExists(t, filepath.Join(store.Dir(), firstID))

	var ownPhotos int
	for _, photo := range model.Card().Photos() {
		if _, ok := store.FileID(photo); ok {
			ownPhotos++
		}
	}
	assert.Equal(t, 1, ownPhotos)
	assert.Contains(t, model.Card().Photos(), "https://example.org/alice.png")
	assert.Equal(t, []vcardmodel.Change{{Field: vcardmodel.FieldAvatar}, {Field: vcardmodel.FieldAvatar}}, recorder.changes)
}

func TestSetAvatar_CollapsesDuplicates(t *testing.T) {
	model, store, _ := newModel(t)
	model.Card().AddPhoto(store.Reference("stale-1.png"))
	model.Card().AddPhoto(store.Reference("stale-2.png"))

	// The stale files don't exist, so removing them only logs a warning.
	assert.True(t, model.SetAvatar(writeImage(t, "new.png")))
	fileID, ok := model.AvatarFileID()
	require.True(t, ok)
	assert.Equal(t, []string{store.Reference(fileID)}, model.Card().Photos())
}

func TestSetAvatar_Invalid(t *testing.T) {
	model, _, recorder := newModel(t)
	require.True(t, model.SetAvatar(writeImage(t, "ok.png")))
	before := model.Avatar()
	recorder.reset()

	assert.False(t, model.SetAvatar(filepath.Join(t.TempDir(), "missing.png")))
	notImage := filepath.Join(t.TempDir(), "text.png")
	require.NoError(t, os.WriteFile(notImage, []byte("hello"), 0600))
	assert.False(t, model.SetAvatar(notImage))

	assert.Equal(t, before, model.Avatar())
	assert.Empty(t, recorder.changes)
}

func TestSetAvatar_CopyFailure(t *testing.T) {
	model, store, recorder := newModel(t)
	require.True(t, model.SetAvatar(writeImage(t, "ok.png")))
	photos := model.Card().Photos()
	recorder.reset()

	// Replace the avatar directory with a plain file so the copy can't be created, even as root.
	require.NoError(t, os.RemoveAll(store.Dir()))
	require.NoError(t, os.WriteFile(store.Dir(), nil, 0600))

	assert.False(t, model.SetAvatar(writeImage(t, "new.png")))
	assert.Equal(t, photos, model.Card().Photos())
	assert.Empty(t, recorder.changes)
}

func TestAddress(t *testing.T) {
	model, _, recorder := newModel(t)
	assert.NotNil(t, model.Address())
	assert.Empty(t, model.Address())
	assert.False(t, model.SetAddress(vcardmodel.Address{"city": "Paris"}))
	assert.Empty(t, model.Address())
	assert.Empty(t, recorder.changes)
}
