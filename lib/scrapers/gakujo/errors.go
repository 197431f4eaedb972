package gakujo

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectivity means the network probe failed before any portal
	// request was attempted.
	ErrConnectivity = errors.New("network is unreachable")
	// ErrMaintenanceWindow is a policy refusal: the portal rejects all
	// requests between 03:00 and 05:00 JST, so we never try.
	ErrMaintenanceWindow = errors.New("portal is in its nightly maintenance window")
	// ErrAuthentication means the identity provider rejected the
	// credentials (detected via known failure phrases in the HTML).
	ErrAuthentication = errors.New("wrong username or password")
	// ErrTokenNotFound means a page that must carry a struts token did
	// not, which usually means the session expired mid-flow.
	ErrTokenNotFound = errors.New("anti-forgery token not found")
	// ErrSessionExpired means the portal answered a request with its
	// login entry page: the server dropped the session before the local
	// lifetime ran out. The login stamp is cleared when this is raised,
	// so the next operation re-authenticates first.
	ErrSessionExpired = errors.New("portal session expired")
)

// PageStructureError reports an expected HTML node missing from a page
// where it is mandatory. It signals upstream UI drift, never an empty
// dataset: legitimately empty lists are detected by container absence
// and reported as empty results instead.
type PageStructureError struct {
	Page string
	Node string
}

func (e *PageStructureError) Error() string {
	return fmt.Sprintf("unexpected page structure on %s: missing %s", e.Page, e.Node)
}

func structureErr(page, node string) error {
	return &PageStructureError{Page: page, Node: node}
}

// Registration conflict classes, matched against literal error
// phrases in the registration response.
type ConflictKind int

const (
	ConflictNone ConflictKind = iota
	// ConflictCreditLimit: the semester credit cap would be exceeded.
	ConflictCreditLimit
	// ConflictDuplicate: another class already occupies the slot.
	ConflictDuplicate
	// ConflictCapacity: the class is full.
	ConflictCapacity
)

type RegistrationConflictError struct {
	Kind    ConflictKind
	Message string
}

func (e *RegistrationConflictError) Error() string {
	switch e.Kind {
	case ConflictCreditLimit:
		return "registration rejected: credit limit exceeded"
	case ConflictDuplicate:
		return "registration rejected: slot occupied by another class"
	case ConflictCapacity:
		return "registration rejected: class is at capacity"
	}
	return fmt.Sprintf("registration rejected: %s", e.Message)
}
