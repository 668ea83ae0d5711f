// Package identity maps a phone number to the user behind it, the tenant they
// are currently working in, and that tenant's reference data.
package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnknownPhone means no registered user owns the phone.
	ErrUnknownPhone = errors.New("identity: unknown phone")
	// ErrNotMember is returned when switching to a tenant the user doesn't belong to.
	ErrNotMember = errors.New("identity: user is not a member of tenant")
)

type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Category struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Actor is the resolved sender of a message. It is read-only to callers.
type Actor struct {
	UserID      string     `json:"user_id"`
	TenantID    string     `json:"tenant_id"`
	TenantName  string     `json:"tenant_name"`
	DisplayName string     `json:"display_name"`
	Phone       string     `json:"phone"`
	Locations   []Location `json:"locations"`
	Categories  []Category `json:"categories"`
}

// Directory resolves actors and manages which tenant they act in.
type Directory interface {
	Resolve(ctx context.Context, phone string) (*Actor, error)
	ListTenants(ctx context.Context, userID string) ([]Tenant, error)
	SetActiveTenant(ctx context.Context, userID, tenantID string) error
}

// Invalidator is implemented by directories that cache actors. Callers invoke
// it after changing what Resolve would return for a phone.
type Invalidator interface {
	Invalidate(ctx context.Context, phone string) error
}

func (a *Actor) LocationNames() []string {
	names := make([]string, 0, len(a.Locations))
	for _, l := range a.Locations {
		names = append(names, l.Name)
	}
	return names
}

func (a *Actor) CategoryNames() []string {
	names := make([]string, 0, len(a.Categories))
	for _, c := range a.Categories {
		names = append(names, c.Name)
	}
	return names
}

// FindLocation matches a location by exact name, ignoring case and
// surrounding whitespace.
func (a *Actor) FindLocation(name string) (Location, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Location{}, false
	}
	for _, l := range a.Locations {
		if strings.EqualFold(l.Name, name) {
			return l, true
		}
	}
	return Location{}, false
}

// LocationByID returns the tenant location with id.
func (a *Actor) LocationByID(id string) (Location, bool) {
	for _, l := range a.Locations {
		if l.ID == id {
			return l, true
		}
	}
	return Location{}, false
}

// CategoryByID returns the tenant category with id.
func (a *Actor) CategoryByID(id string) (Category, bool) {
	for _, c := range a.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}
