package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// Operation names what happened to a user's collection.
type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
	// OpResync asks the worker to rewrite the mirror without a specific change.
	OpResync Operation = "resync"
)

// TransactionChangeMessage tells the mirror worker that a user's collection
// changed. It carries ids only; the worker reloads the full snapshot.
type TransactionChangeMessage struct {
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Operation     Operation `json:"operation"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionChangeMessage(userID, transactionID string, op Operation) *TransactionChangeMessage {
	return &TransactionChangeMessage{
		UserID:        userID,
		TransactionID: transactionID,
		Operation:     op,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TransactionChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionChangeMessageFromJSON decodes a message and rejects one without
// a user.
func TransactionChangeMessageFromJSON(data []byte) (*TransactionChangeMessage, error) {
	var msg TransactionChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, errors.New("message has no user_id")
	}
	if msg.Operation == "" {
		msg.Operation = OpResync
	}
	return &msg, nil
}
