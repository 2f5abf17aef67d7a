// Package mediaid encodes and parses the composite media identifiers used to
// name illustrations, manga pages, users and local files.
//
// The string form is "<type>:<id>" for everything except illustrations, which
// carry a page suffix: "illust:<id>-<page>". A bare string with no type prefix
// is an illustration id.
package mediaid

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/arc/v2"
)

// Type is the kind of item a media id names.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeIllust
	TypeUser
	TypeFolder
	TypeFile
)

var typeNames = map[Type]string{
	TypeIllust: "illust",
	TypeUser:   "user",
	TypeFolder: "folder",
	TypeFile:   "file",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType returns the Type for a type prefix, or TypeUnknown.
func ParseType(s string) Type {
	for t, name := range typeNames {
		if name == s {
			return t
		}
	}
	return TypeUnknown
}

// ID is a parsed media id. It is comparable and can be used as a map key.
// Page is always 0 for non-illustration types. An id with an unrecognized
// type prefix keeps the whole input, prefix included, in ID.
type ID struct {
	Type Type
	ID   string
	Page int
}

// New builds an ID, forcing Page to 0 for types that have no pages.
func New(t Type, id string, page int) ID {
	if t != TypeIllust {
		page = 0
	}
	return ID{Type: t, ID: id, Page: page}
}

// Illust returns the id of page of an illustration.
func Illust(illustID string, page int) ID {
	return New(TypeIllust, illustID, page)
}

// String encodes the id in its canonical form.
func (m ID) String() string {
	if m.IsZero() {
		return ""
	}
	switch m.Type {
	case TypeIllust:
		return "illust:" + m.ID + "-" + strconv.Itoa(m.Page)
	case TypeUnknown:
		return m.ID
	}
	return m.Type.String() + ":" + m.ID
}

// IsZero reports whether m is the zero ID.
func (m ID) IsZero() bool {
	return m == ID{}
}

// FirstPage returns m with the page set to 0.
func (m ID) FirstPage() ID {
	m.Page = 0
	return m
}

// ForPage returns m with its page replaced. Non-illustration ids are returned
// unchanged.
func (m ID) ForPage(page int) ID {
	if m.Type != TypeIllust {
		return m
	}
	m.Page = page
	return m
}

// IsLocal reports whether m refers to the local file tree.
func (m ID) IsLocal() bool {
	return m.Type == TypeFolder || m.Type == TypeFile
}

// ToIllustIDAndPage splits m for callers that still work with bare
// illustration ids.
func (m ID) ToIllustIDAndPage() (string, int) {
	return m.ID, m.Page
}

// MarshalText implements encoding.TextMarshaler.
func (m ID) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ID) UnmarshalText(b []byte) error {
	*m = Parse(string(b))
	return nil
}

const parseCacheSize = 16384

var parseCache *lru.ARCCache[string, ID]

func init() {
	c, err := lru.NewARC[string, ID](parseCacheSize)
	if err != nil {
		panic(err)
	}
	parseCache = c
}

// Parse decodes a media id string. Parsing is permissive: a missing type
// prefix means an illustration, and a missing or unparseable page means page
// 0. Results are memoized by input string.
func Parse(s string) ID {
	if s == "" {
		return ID{}
	}
	if id, ok := parseCache.Get(s); ok {
		return id
	}
	id := parse(s)
	parseCache.Add(s, id)
	return id
}

func parse(s string) ID {
	t := TypeIllust
	rest := s

	// Only the first colon separates the type. Local paths may contain more.
	if prefix, remainder, ok := strings.Cut(s, ":"); ok {
		t = ParseType(prefix)
		rest = remainder
		if t == TypeUnknown {
			return ID{Type: TypeUnknown, ID: s}
		}
	}

	if t != TypeIllust {
		return ID{Type: t, ID: rest}
	}

	idx := strings.LastIndexByte(rest, '-')
	if idx == -1 {
		return ID{Type: TypeIllust, ID: rest}
	}
	page, err := strconv.Atoi(rest[idx+1:])
	if err != nil || page < 0 {
		page = 0
	}
	return ID{Type: TypeIllust, ID: rest[:idx], Page: page}
}
