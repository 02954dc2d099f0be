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
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"github.com/tidwall/gjson"

	"go.mau.fi/vcardbook/pkg/vcardmodel"
)

const maxRequestBody = 64 * 1024

type API struct {
	book   *ContactBook
	log    zerolog.Logger
	secret string
	router *mux.Router
}

func NewAPI(book *ContactBook, sharedSecret string) *API {
	api := &API{
		book:   book,
		log:    book.Log.With().Str("component", "api").Logger(),
		secret: sharedSecret,
		router: mux.NewRouter(),
	}
	r := api.router.PathPrefix("/v1").Subrouter()
	r.Use(api.AuthMiddleware)
	r.HandleFunc("/contacts", api.ListContacts).Methods(http.MethodGet)
	r.HandleFunc("/contacts", api.CreateContact).Methods(http.MethodPost)
	r.HandleFunc("/contacts/{uid}", api.GetContact).Methods(http.MethodGet)
	r.HandleFunc("/contacts/{uid}", api.DeleteContact).Methods(http.MethodDelete)
	r.HandleFunc("/contacts/{uid}/username", api.SetUsername).Methods(http.MethodPut)
	r.HandleFunc("/contacts/{uid}/avatar", api.SetAvatar).Methods(http.MethodPut)
	r.HandleFunc("/contacts/{uid}/vcard", api.GetVCard).Methods(http.MethodGet)
	r.HandleFunc("/contacts/{uid}/qr", api.GetQR).Methods(http.MethodGet)
	r.HandleFunc("/contacts/{uid}/events", api.Events).Methods(http.MethodGet)
	r.HandleFunc("/contacts/{uid}/{field:sip|companies|emails|urls}", api.AddValue).Methods(http.MethodPost)
	r.HandleFunc("/contacts/{uid}/{field:sip|companies|emails|urls}", api.RemoveValue).Methods(http.MethodDelete)
	r.HandleFunc("/contacts/{uid}/{field:sip|companies|emails|urls}", api.UpdateValue).Methods(http.MethodPatch)
	r.HandleFunc("/avatars/{file}", api.GetAvatar).Methods(http.MethodGet)
	return api
}

func (api *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.router.ServeHTTP(w, r)
}

type responseWrap struct {
	http.ResponseWriter
	statusCode int
}

var _ http.Hijacker = (*responseWrap)(nil)

func (rw *responseWrap) WriteHeader(statusCode int) {
	rw.ResponseWriter.WriteHeader(statusCode)
	rw.statusCode = statusCode
}

func (rw *responseWrap) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

type Error struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	ErrCode string `json:"errcode"`
}

const (
	ErrCodeForbidden  = "FORBIDDEN"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeBadRequest = "BAD_REQUEST"
	ErrCodeRejected   = "REJECTED"
	ErrCodeInternal   = "INTERNAL"
)

func jsonResponse(w http.ResponseWriter, status int, response any) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func errorResponse(w http.ResponseWriter, status int, errcode, message string) {
	jsonResponse(w, status, Error{Success: false, Error: message, ErrCode: errcode})
}

func (api *API) AuthMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.secret != "" {
			auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if auth == "" {
				// Browsers can't set headers on websocket requests
				auth = r.URL.Query().Get("access_token")
			}
			if auth != api.secret {
				api.log.Info().Msg("Authentication token does not match shared secret")
				errorResponse(w, http.StatusForbidden, ErrCodeForbidden, "Authentication token does not match shared secret")
				return
			}
		}
		start := time.Now()
		wWrap := &responseWrap{w, http.StatusOK}
		h.ServeHTTP(wWrap, r.WithContext(api.log.WithContext(r.Context())))
		api.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Int("status", wWrap.statusCode).
			Msg("Handled API request")
	})
}

func (api *API) getContact(w http.ResponseWriter, r *http.Request) *Contact {
	uid := mux.Vars(r)["uid"]
	contact, err := api.book.GetContactByUID(r.Context(), uid)
	if err != nil {
		api.log.Err(err).Str("contact_uid", uid).Msg("Failed to get contact")
		errorResponse(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to get contact")
		return nil
	} else if contact == nil {
		errorResponse(w, http.StatusNotFound, ErrCodeNotFound, "Contact not found")
		return nil
	}
	return contact
}

// readBody reads a JSON object from the request body.
func readBody(w http.ResponseWriter, r *http.Request) (gjson.Result, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return gjson.Result{}, false
	} else if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		errorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "Request body must be a JSON object")
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(body), true
}

func requireString(w http.ResponseWriter, body gjson.Result, key string) (string, bool) {
	val := body.Get(key)
	if val.Type != gjson.String {
		errorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "Missing string field "+key)
		return "", false
	}
	return val.String(), true
}

// applyEdit runs an edit on the contact and responds with the updated contact info.
func (api *API) applyEdit(w http.ResponseWriter, r *http.Request, contact *Contact, operation string, fn func(model *vcardmodel.Model) bool) {
	var ok bool
	_, err := contact.Edit(r.Context(), func(model *vcardmodel.Model) {
		ok = fn(model)
	})
	if errors.Is(err, ErrContactDeleted) {
		errorResponse(w, http.StatusNotFound, ErrCodeNotFound, "Contact not found")
	} else if err != nil {
		errorResponse(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to save contact")
	} else if !ok {
		api.book.Metrics.TrackRejectedEdit(operation)
		errorResponse(w, http.StatusConflict, ErrCodeRejected, "The contact was not changed")
	} else {
		jsonResponse(w, http.StatusOK, contact.Info())
	}
}

func contactInfos(contacts []*Contact) []ContactInfo {
	infos := make([]ContactInfo, len(contacts))
	for i, contact := range contacts {
		infos[i] = contact.Info()
	}
	return infos
}

func (api *API) ListContacts(w http.ResponseWriter, r *http.Request) {
	var contacts []*Contact
	var err error
	if query := r.URL.Query().Get("q"); query != "" {
		contacts, err = api.book.SearchContacts(r.Context(), query)
	} else {
		contacts, err = api.book.GetAllContacts(r.Context())
	}
	if err != nil {
		api.log.Err(err).Msg("Failed to list contacts")
		errorResponse(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to list contacts")
		return
	}
	jsonResponse(w, http.StatusOK, contactInfos(contacts))
}

func (api *API) CreateContact(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var sipAddresses []string
	for _, addr := range body.Get("sip_addresses").Array() {
		sipAddresses = append(sipAddresses, addr.String())
	}
	contact, err := api.book.CreateContact(r.Context(), body.Get("username").String(), sipAddresses...)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, contact.Info())
}

func (api *API) GetContact(w http.ResponseWriter, r *http.Request) {
	if contact := api.getContact(w, r); contact != nil {
		jsonResponse(w, http.StatusOK, contact.Info())
	}
}

func (api *API) DeleteContact(w http.ResponseWriter, r *http.Request) {
	contact := api.getContact(w, r)
	if contact == nil {
		return
	}
	if err := api.book.DeleteContact(r.Context(), contact); err != nil {
		api.log.Err(err).Str("contact_uid", contact.UID).Msg("Failed to delete contact")
		errorResponse(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to delete contact")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *API) SetUsername(w http.ResponseWriter, r *http.Request) {
	contact := api.getContact(w, r)
	if contact == nil {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	username, ok := requireString(w, body, "value")
	if !ok {
		return
	}
	api.applyEdit(w, r, contact, "set_username", func(model *vcardmodel.Model) bool {
		return model.SetUsername(username)
	})
}

func (api *API) SetAvatar(w http.ResponseWriter, r *http.Request) {
	contact := api.getContact(w, r)
	if contact == nil {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	path, ok := requireString(w, body, "path")
	if !ok {
		return
	}
	api.applyEdit(w, r, contact, "set_avatar", func(model *vcardmodel.Model) bool {
		return model.SetAvatar(path)
	})
}

type listOperations struct {
	add    func(model *vcardmodel.Model, value string) bool
	remove func(model *vcardmodel.Model, value string) bool
	update func(model *vcardmodel.Model, oldValue, value string) bool
}

var listFieldOperations = map[string]listOperations{
	"sip":       {(*vcardmodel.Model).AddSipAddress, (*vcardmodel.Model).RemoveSipAddress, (*vcardmodel.Model).UpdateSipAddress},
	"companies": {(*vcardmodel.Model).AddCompany, (*vcardmodel.Model).RemoveCompany, (*vcardmodel.Model).UpdateCompany},
	"emails":    {(*vcardmodel.Model).AddEmail, (*vcardmodel.Model).RemoveEmail, (*vcardmodel.Model).UpdateEmail},
	"urls":      {(*vcardmodel.Model).AddURL, (*vcardmodel.Model).RemoveURL, (*vcardmodel.Model).UpdateURL},
}

func (api *API) AddValue(w http.ResponseWriter, r *http.Request) {
	contact := api.getContact(w, r)
	if contact == nil {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	value, ok := requireString(w, body, "value")
	if !ok {
		return
	}
	field := mux.Vars(r)["field"]
	api.applyEdit(w, r, contact, "add_"+field, func(model *vcardmodel.Model) bool {
		return listFieldOperations[field].add(model, value)
	})
}

func (api *API) RemoveValue(w http.ResponseWriter, r *http.Request) {
	contact := api.getContact(w, r)
	if contact == nil {
		return
	}
	value := r.URL.Query().Get("value")
	if value == "" {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		if value, ok = requireString(w, body, "value"); !ok {
			return
		}
	}
	field := mux.Vars(r)["field"]
	api.applyEdit(w, r, contact, "remove_"+field, func(model *vcardmodel.Model) bool {
		return listFieldOperations[field].remove(model, value)
	})
}

func (api *API) UpdateValue(w http.ResponseWriter, r *http.Request) {
	contact := api.getContact(w, r)
	if contact == nil {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	oldValue, ok := requireString(w, body, "old")
	if !ok {
		return
	}
	newValue, ok := requireString(w, body, "new")
	if !ok {
		return
	}
	field := mux.Vars(r)["field"]
	api.applyEdit(w, r, contact, "update_"+field, func(model *vcardmodel.Model) bool {
		return listFieldOperations[field].update(model, oldValue, newValue)
	})
}

func (api *API) GetVCard(w http.ResponseWriter, r *http.Request) {
	contact := api.getContact(w, r)
	if contact == nil {
		return
	}
	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, contact.EncodedVCard())
}

func (api *API) GetQR(w http.ResponseWriter, r *http.Request) {
	contact := api.getContact(w, r)
	if contact == nil {
		return
	}
	png, err := qrcode.Encode(contact.EncodedVCard(), qrcode.Medium, 512)
	if err != nil {
		api.log.Err(err).Str("contact_uid", contact.UID).Msg("Failed to generate QR code")
		errorResponse(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to generate QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// GetAvatar serves the files behind image://<provider>/<file> URIs.
func (api *API) GetAvatar(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file"]
	file, err := api.book.Avatars.Open(fileID)
	if err != nil {
		errorResponse(w, http.StatusNotFound, ErrCodeNotFound, "Avatar not found")
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to read avatar")
		return
	}
	http.ServeContent(w, r, fileID, info.ModTime(), file)
}
