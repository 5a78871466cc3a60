// Package directory maps telephony numbers to chat-platform identities.
//
// The mapping is built once from configuration and never mutated. Forward
// lookups hit a map; reverse lookups scan the entries in phone-number order,
// so a non-injective mapping always resolves to the same (first) number.
package directory

import (
	"fmt"
	"sort"

	"smsbridge/internal/phonenum"
)

// Entry is one phone number to chat identity link.
type Entry struct {
	Phone    string
	Identity string
}

// Directory is an immutable, concurrency-safe identity directory.
type Directory struct {
	byPhone     map[string]string
	entries     []Entry
	countryCode string
}

// New builds a Directory from a phone → identity map. Phone keys are
// normalised with countryCode. Empty keys or identities are rejected, as are
// two raw keys that normalise to the same number.
func New(mapping map[string]string, countryCode string) (*Directory, error) {
	d := &Directory{
		byPhone:     make(map[string]string, len(mapping)),
		entries:     make([]Entry, 0, len(mapping)),
		countryCode: countryCode,
	}
	for raw, identity := range mapping {
		phone := phonenum.Normalize(raw, countryCode)
		if phone == "" {
			return nil, fmt.Errorf("directory: phone number %q has no digits", raw)
		}
		if identity == "" {
			return nil, fmt.Errorf("directory: phone number %q maps to an empty identity", raw)
		}
		if _, dup := d.byPhone[phone]; dup {
			return nil, fmt.Errorf("directory: phone number %q listed twice", phone)
		}
		d.byPhone[phone] = identity
		d.entries = append(d.entries, Entry{Phone: phone, Identity: identity})
	}
	sort.Slice(d.entries, func(i, j int) bool { return d.entries[i].Phone < d.entries[j].Phone })
	return d, nil
}

// ChatIdentity resolves a phone number to its linked chat identity.
func (d *Directory) ChatIdentity(phone string) (string, bool) {
	id, ok := d.byPhone[phonenum.Normalize(phone, d.countryCode)]
	return id, ok
}

// PhoneNumber resolves a chat identity back to its phone number. Linear in
// the directory size; the directory holds operator-configured contacts only.
func (d *Directory) PhoneNumber(identity string) (string, bool) {
	if identity == "" {
		return "", false
	}
	for _, e := range d.entries {
		if e.Identity == identity {
			return e.Phone, true
		}
	}
	return "", false
}

// Len returns the number of entries.
func (d *Directory) Len() int { return len(d.entries) }

// Entries returns a copy of the entries in phone-number order.
func (d *Directory) Entries() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// SharedIdentities returns identities linked to more than one phone number.
// Reverse lookups for these resolve to the lowest number only.
func (d *Directory) SharedIdentities() []string {
	counts := make(map[string]int)
	for _, e := range d.entries {
		counts[e.Identity]++
	}
	var shared []string
	for id, n := range counts {
		if n > 1 {
			shared = append(shared, id)
		}
	}
	sort.Strings(shared)
	return shared
}
