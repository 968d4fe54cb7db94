// Package push consumes the live-event channel: server-pushed typed
// events delivered at-least-once with no ordering guarantee across
// reconnects.
package push

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paychat-app/paychat/internal/bus"
)

// Envelope is the wire format for all pushed events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessageNew is pushed when a new message lands in a conversation.
type MessageNew struct {
	ID              string `json:"id"`
	InteractionID   string `json:"interactionId"`
	Content         string `json:"content"`
	MessageType     string `json:"messageType"`
	FromEntityID    string `json:"fromEntityId"`
	ToEntityID      string `json:"toEntityId"`
	CreatedAtUnixMs int64  `json:"createdAt"`
}

// TransactionUpdate is pushed when a transaction is created or changes
// status.
type TransactionUpdate struct {
	ID              string `json:"id"`
	InteractionID   string `json:"interactionId"`
	Amount          int64  `json:"amount"`
	CurrencyCode    string `json:"currencyCode"`
	FromWalletID    string `json:"fromWalletId"`
	ToWalletID      string `json:"toWalletId"`
	TransactionType string `json:"transactionType"`
	Status          string `json:"status"`
	CreatedAtUnixMs int64  `json:"createdAt"`
}

// ItemDeleted is pushed when the server removes an item.
type ItemDeleted struct {
	ServerID      string `json:"serverId"`
	InteractionID string `json:"interactionId"`
}

// InteractionUpdated is pushed on conversation metadata changes.
type InteractionUpdated struct {
	InteractionID string `json:"interactionId"`
	Title         string `json:"title"`
}

// Parse decodes one wire frame into a typed bus event. Unknown event
// types return (nil, nil): the channel may grow kinds this client does
// not handle yet.
func Parse(data []byte) (*bus.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	evt := &bus.Event{Timestamp: time.Now()}
	switch env.Type {
	case "message:new":
		var p MessageNew
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode message:new: %w", err)
		}
		evt.Kind = bus.KindPushMessage
		evt.Payload = p
	case "transaction:update":
		var p TransactionUpdate
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode transaction:update: %w", err)
		}
		evt.Kind = bus.KindPushTransactionUpdate
		evt.Payload = p
	case "message:deleted":
		var p ItemDeleted
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode message:deleted: %w", err)
		}
		evt.Kind = bus.KindPushItemDeleted
		evt.Payload = p
	case "interaction:updated":
		var p InteractionUpdated
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode interaction:updated: %w", err)
		}
		evt.Kind = bus.KindPushInteraction
		evt.Payload = p
	default:
		return nil, nil
	}
	return evt, nil
}
