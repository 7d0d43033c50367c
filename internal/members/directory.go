// Package members is the fixed group sharing the ledger.
package members

import (
	"errors"
	"fmt"
	"strings"

	"cassa/internal/core"
)

// Directory lists the group in a stable order.
type Directory interface {
	All() []core.MemberID
	Contains(id core.MemberID) bool
	Name(id core.MemberID) string
}

type Member struct {
	ID   core.MemberID `json:"id"`
	Name string        `json:"name"`
}

var ErrEmptyDirectory = errors.New("member directory is empty")

// Static is a Directory fixed at construction.
type Static struct {
	members []Member
	index   map[core.MemberID]int
}

var _ Directory = (*Static)(nil)

// NewStatic validates ids and keeps the given order.
func NewStatic(members []Member) (*Static, error) {
	if len(members) == 0 {
		return nil, ErrEmptyDirectory
	}
	s := &Static{index: make(map[core.MemberID]int, len(members))}
	for _, m := range members {
		m.ID = core.MemberID(strings.TrimSpace(string(m.ID)))
		m.Name = strings.TrimSpace(m.Name)
		if m.ID == "" {
			return nil, errors.New("member id cannot be empty")
		}
		if _, dup := s.index[m.ID]; dup {
			return nil, fmt.Errorf("duplicate member id %q", m.ID)
		}
		if m.Name == "" {
			m.Name = string(m.ID)
		}
		s.index[m.ID] = len(s.members)
		s.members = append(s.members, m)
	}
	return s, nil
}

// Parse reads a comma separated list of "id" or "id:Display Name" entries,
// e.g. "G:Giang,T:Tuan,Q:Quang". Blank entries are skipped.
func Parse(s string) (*Static, error) {
	var list []Member
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, name, _ := strings.Cut(raw, ":")
		list = append(list, Member{ID: core.MemberID(id), Name: name})
	}
	return NewStatic(list)
}

func (s *Static) All() []core.MemberID {
	out := make([]core.MemberID, len(s.members))
	for i, m := range s.members {
		out[i] = m.ID
	}
	return out
}

func (s *Static) Contains(id core.MemberID) bool {
	_, ok := s.index[id]
	return ok
}

// Name returns the display name, falling back to the id itself.
func (s *Static) Name(id core.MemberID) string {
	if i, ok := s.index[id]; ok {
		return s.members[i].Name
	}
	return string(id)
}

func (s *Static) Members() []Member {
	return append([]Member(nil), s.members...)
}
