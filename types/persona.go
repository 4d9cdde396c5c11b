package types

import (
	"net"
	"strconv"
)

// Persona is an immutable synthetic identity used to steer an agent's answers.
// The pipeline never mutates a Persona after creation; cohorts hold deep copies.
type Persona struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Age         int      `json:"age"`
	Gender      string   `json:"gender"` // "male", "female"
	Occupation  string   `json:"occupation"`
	Education   string   `json:"education"`
	IncomeBand  string   `json:"income_band"`
	Residence   string   `json:"residence"`
	Interests   []string `json:"interests,omitempty"`
	Brands      []string `json:"brands,omitempty"`
	Mood        string   `json:"mood,omitempty"`     // current-state hint
	Activity    string   `json:"activity,omitempty"` // current-state hint
	FamilyRole  string   `json:"family_role,omitempty"`
	ChildCount  int      `json:"child_count,omitempty"`
	MaritalStat string   `json:"marital_status,omitempty"`
}

// Clone returns a deep copy of the persona. Slices are duplicated so the copy
// can outlive the source without sharing state.
func (p Persona) Clone() Persona {
	out := p
	out.Interests = append([]string(nil), p.Interests...)
	out.Brands = append([]string(nil), p.Brands...)
	return out
}

// ProxyBinding holds the proxy credentials derived for one persona. It is a
// pure function of the persona id and a credential template; it is never
// persisted.
type ProxyBinding struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// Addr renders the binding as host:port.
func (b ProxyBinding) Addr() string {
	if b.Host == "" {
		return ""
	}
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}
