package device

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/srg/btwiz/internal/sdpdb"
)

// ServiceID is the 128-bit identifier of a service/profile on a remote device.
type ServiceID uuid.UUID

// SerialPortProfile is the well-known serial port profile identifier.
var SerialPortProfile = MustParseServiceID("00001101-0000-1000-8000-00805F9B34FB")

// ParseServiceID accepts a full UUID, a 16/32-bit SIG short form ("1101") or
// a well-known alias ("spp").
func ParseServiceID(s string) (ServiceID, error) {
	expanded, ok := sdpdb.Expand(s)
	if !ok {
		return ServiceID{}, fmt.Errorf("invalid service id %q", s)
	}
	u, err := uuid.Parse(expanded)
	if err != nil {
		return ServiceID{}, fmt.Errorf("invalid service id %q: %w", s, err)
	}
	return ServiceID(u), nil
}

// MustParseServiceID is like ParseServiceID but panics on malformed input.
func MustParseServiceID(s string) ServiceID {
	id, err := ParseServiceID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// NewRandomServiceID returns a fresh random (version 4) identifier.
func NewRandomServiceID() ServiceID {
	return ServiceID(uuid.New())
}

func (s ServiceID) String() string {
	return uuid.UUID(s).String()
}

// IsZero reports whether s is the all-zero identifier.
func (s ServiceID) IsZero() bool {
	return s == ServiceID{}
}

// UUID returns s as a uuid.UUID.
func (s ServiceID) UUID() uuid.UUID {
	return uuid.UUID(s)
}

// KnownName returns the well-known service class name, or "" for vendor identifiers.
func (s ServiceID) KnownName() string {
	if e, ok := sdpdb.Lookup(s.String()); ok {
		return e.Name
	}
	return ""
}

// ShortenServiceID returns a display form: the 16-bit short form for SIG
// identifiers, the first eight characters otherwise.
func ShortenServiceID(s ServiceID) string {
	n := sdpdb.NormalizeUUID(s.String())
	if len(n) > 8 {
		return n[:8]
	}
	return n
}

// ValidateServiceIDs parses one or more service id strings.
func ValidateServiceIDs(ids ...string) ([]ServiceID, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one service id is required")
	}

	result := make([]ServiceID, 0, len(ids))
	for i, s := range ids {
		if s == "" {
			return nil, fmt.Errorf("service id at index %d cannot be empty", i)
		}
		id, err := ParseServiceID(s)
		if err != nil {
			return nil, fmt.Errorf("invalid service id at index %d: %w", i, err)
		}
		result = append(result, id)
	}
	return result, nil
}
