package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PublicKey is the key descriptor published in an actor document.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Actor is a local or federated identity.
type Actor struct {
	Id           uuid.UUID `json:"id"`
	FederationID string    `json:"federationId"`
	Handle       string    `json:"handle"`
	FullHandle   string    `json:"fullHandle"`
	DisplayName  string    `json:"displayName,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	Email        string    `json:"email,omitempty"`
	IconURL      string    `json:"iconUrl,omitempty"`
	PasswordHash string    `json:"-"`

	InboxURI     string `json:"inbox"`
	OutboxURI    string `json:"outbox"`
	FollowersURI string `json:"followers"`
	FollowingURI string `json:"following"`

	PublicKey     PublicKey `json:"publicKey"`
	PrivateKeyPem string    `json:"-"`

	// Following holds the federation ids of followed actors.
	Following []string `json:"followingIds"`

	Remote bool   `json:"remote"`
	Host   string `json:"host,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Public returns a copy of the actor without credential or private key material.
func (acc *Actor) Public() *Actor {
	if acc == nil {
		return nil
	}
	cp := *acc
	cp.PasswordHash = ""
	cp.PrivateKeyPem = ""
	cp.Following = append([]string(nil), acc.Following...)
	return &cp
}

// IsFollowing reports whether federationID is in the actor's followee set.
func (acc *Actor) IsFollowing(federationID string) bool {
	for _, f := range acc.Following {
		if f == federationID {
			return true
		}
	}
	return false
}

// Name returns the display name, falling back to the handle.
func (acc *Actor) Name() string {
	if acc.DisplayName != "" {
		return acc.DisplayName
	}
	return acc.Handle
}

func (acc *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tHandle: %s \n\tFederationID: %s \n\tCREATED_AT: %s)", acc.Id, acc.FullHandle, acc.FederationID, acc.CreatedAt)
}
