package iio

import "strings"

// AttrID identifies an attribute within one chip driver
type AttrID uint16

// Attr binds an attribute name to the chip-private identifier that the
// device's AttrHandler dispatches on
type Attr struct {
	Name string
	ID   AttrID
}

// AttrHandler services attribute reads and writes for a device.
// ch is nil for global attributes.
type AttrHandler interface {
	ReadAttr(id AttrID, ch *Channel) (string, error)
	WriteAttr(id AttrID, ch *Channel, value string) error
}

// Enum is an ordered table of accepted attribute strings
type Enum []string

// Index returns the position of s. On a miss it returns len(e) and false,
// one past the last entry.
func (e Enum) Index(s string) (int, bool) {
	i := 0
	for ; i < len(e); i++ {
		if e[i] == s {
			return i, true
		}
	}
	return i, false
}

// Prefix matches s against the leading bytes of each entry, so a truncated
// value selects the first entry it is a prefix of. Empty strings never match.
func (e Enum) Prefix(s string) (int, bool) {
	if s == "" {
		return len(e), false
	}
	i := 0
	for ; i < len(e); i++ {
		if strings.HasPrefix(e[i], s) {
			return i, true
		}
	}
	return i, false
}

// Available renders the table for *_available attributes
func (e Enum) Available() string {
	return strings.Join(e, " ")
}

// Name returns the entry at i or "" when out of range
func (e Enum) Name(i int) string {
	if i < 0 || i >= len(e) {
		return ""
	}
	return e[i]
}
