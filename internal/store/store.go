// ABOUTME: Store interface and data types for strand-relay persistence
// ABOUTME: Defines the Principal struct and the Store interface backing auth

package store

import (
	"context"
	"errors"
	"time"
)

// ErrPrincipalNotFound is returned when a requested principal does not exist
var ErrPrincipalNotFound = errors.New("principal not found")

// ErrDuplicatePrincipal is returned when creating a principal whose ID already exists
var ErrDuplicatePrincipal = errors.New("principal already exists")

// PrincipalType distinguishes what kind of caller a principal represents.
type PrincipalType string

const (
	// PrincipalTypeClient is a remote client submitting prompts and
	// consuming event streams.
	PrincipalTypeClient PrincipalType = "client"

	// PrincipalTypeService is a non-interactive caller such as a health
	// prober or an operations script.
	PrincipalTypeService PrincipalType = "service"
)

// PrincipalStatus gates whether a principal may authenticate.
type PrincipalStatus string

const (
	PrincipalStatusApproved PrincipalStatus = "approved"
	PrincipalStatusPending  PrincipalStatus = "pending"
	PrincipalStatusRevoked  PrincipalStatus = "revoked"
)

// Principal is an identity that may hold a bearer token for the relay.
type Principal struct {
	ID          string
	Type        PrincipalType
	DisplayName string
	Status      PrincipalStatus
	CreatedAt   time.Time
}

// PrincipalFilter narrows List/Count queries. Zero value matches everything.
type PrincipalFilter struct {
	Type   PrincipalType
	Status PrincipalStatus
}

// Store is the persistence interface for relay identities.
type Store interface {
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	ListPrincipals(ctx context.Context, filter PrincipalFilter) ([]*Principal, error)
	CountPrincipals(ctx context.Context, filter PrincipalFilter) (int, error)
	UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error
	DeletePrincipal(ctx context.Context, id string) error
	Close() error
}
