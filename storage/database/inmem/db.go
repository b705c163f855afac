package inmemdb

import (
	"sync"

	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/media"
	"github.com/trezcool/atelier/core/session"
	"github.com/trezcool/atelier/core/user"
)

type (
	// DB keeps every table in memory. It is meant for tests and local runs.
	DB struct {
		txMu sync.Mutex // one writer at a time, see RunInTx
		mu   sync.RWMutex
		tables
	}

	tables struct {
		users    map[string]*user.User
		entries  []ledger.Entry
		courses  map[string]*course.Course
		sessions map[string]*session.LiveSession
	}
)

func Open() *DB {
	return &DB{tables: newTables()}
}

func newTables() tables {
	return tables{
		users:    make(map[string]*user.User),
		courses:  make(map[string]*course.Course),
		sessions: make(map[string]*session.LiveSession),
	}
}

// Reset drops all the rows.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables = newTables()
}

// snapshot deep copies the tables.
func (t tables) snapshot() tables {
	cp := tables{
		users:    make(map[string]*user.User, len(t.users)),
		entries:  append([]ledger.Entry(nil), t.entries...),
		courses:  make(map[string]*course.Course, len(t.courses)),
		sessions: make(map[string]*session.LiveSession, len(t.sessions)),
	}
	for id, u := range t.users {
		usr := cloneUser(*u)
		cp.users[id] = &usr
	}
	for id, c := range t.courses {
		crs := cloneCourse(*c)
		cp.courses[id] = &crs
	}
	for id, s := range t.sessions {
		sess := cloneSession(*s)
		cp.sessions[id] = &sess
	}
	return cp
}

func cloneUser(u user.User) user.User {
	u.Roles = append([]string(nil), u.Roles...)
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return u
}

func cloneCourse(c course.Course) course.Course {
	c.Subscribers = append([]string{}, c.Subscribers...)
	c.Attachments = append([]media.Media{}, c.Attachments...)
	if c.Intro != nil {
		intro := *c.Intro
		c.Intro = &intro
	}
	c.Creator = nil
	return c
}

func cloneSession(s session.LiveSession) session.LiveSession {
	s.Participants = append([]string{}, s.Participants...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}
	return s
}
