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
	"net/http"

	"github.com/gorilla/mux"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"go.mau.fi/vcardbook/pkg/vcardmodel"
)

const subscriberBuffer = 32

// Subscribe returns a channel that receives every change made to the contact.
// The returned function must be called to unsubscribe.
func (contact *Contact) Subscribe() (<-chan vcardmodel.Change, func()) {
	ch := make(chan vcardmodel.Change, subscriberBuffer)
	contact.subscribersLock.Lock()
	contact.subscribers[ch] = struct{}{}
	contact.subscribersLock.Unlock()
	return ch, func() {
		contact.subscribersLock.Lock()
		defer contact.subscribersLock.Unlock()
		if _, ok := contact.subscribers[ch]; ok {
			delete(contact.subscribers, ch)
			close(ch)
		}
	}
}

func (contact *Contact) broadcast(changes []vcardmodel.Change) {
	contact.subscribersLock.Lock()
	defer contact.subscribersLock.Unlock()
	for ch := range contact.subscribers {
		for _, change := range changes {
			select {
			case ch <- change:
			default:
				contact.log.Warn().Str("field", string(change.Field)).Msg("Dropping change notification for slow subscriber")
			}
		}
	}
}

type ChangeEvent struct {
	UID   string           `json:"uid"`
	Field vcardmodel.Field `json:"field"`
}

func (api *API) Events(w http.ResponseWriter, r *http.Request) {
	contact := api.getContact(w, r)
	if contact == nil {
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		api.log.Warn().Err(err).Msg("Failed to accept event websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	changes, unsubscribe := contact.Subscribe()
	defer unsubscribe()
	ctx := conn.CloseRead(r.Context())
	log := api.log.With().Str("contact_uid", mux.Vars(r)["uid"]).Logger()
	log.Debug().Msg("Event stream opened")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Event stream closed")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			err = wsjson.Write(ctx, conn, ChangeEvent{UID: contact.UID, Field: change.Field})
			if err != nil {
				log.Debug().Err(err).Msg("Failed to write change event")
				return
			}
		}
	}
}
