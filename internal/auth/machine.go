package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/voicebooks/internal/xero"
)

type machineSession struct {
	cred      xero.Credential
	expiresAt time.Time
}

// MachineSessions holds the credentials behind issued bearer tokens. Entries
// expire with their token and are swept by Reap.
type MachineSessions struct {
	mu       sync.Mutex
	sessions map[string]machineSession
	now      func() time.Time
}

func NewMachineSessions() *MachineSessions {
	return &MachineSessions{
		sessions: make(map[string]machineSession),
		now:      time.Now,
	}
}

func (s *MachineSessions) Put(cred xero.Credential, expiresAt time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid := uuid.NewString()
	s.sessions[sid] = machineSession{cred: cred, expiresAt: expiresAt}
	return sid
}

func (s *MachineSessions) Get(sid string) (xero.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sid]
	if !ok || !s.now().Before(entry.expiresAt) {
		return xero.Credential{}, false
	}
	return entry.cred, true
}

// Update replaces the credential of a live session, keeping its expiry.
func (s *MachineSessions) Update(sid string, cred xero.Credential) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sid]
	if !ok || !s.now().Before(entry.expiresAt) {
		return false
	}
	entry.cred = cred
	s.sessions[sid] = entry
	return true
}

func (s *MachineSessions) Delete(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sid)
}

// Reap drops expired sessions and reports how many were removed.
func (s *MachineSessions) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for sid, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, sid)
			removed++
		}
	}
	return removed
}

func (s *MachineSessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
