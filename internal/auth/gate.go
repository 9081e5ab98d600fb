// Package auth decides whether an actor may command the bot.
package auth

import (
	"errors"
	"strings"
	"sync"
)

// RefusalText is sent in reply to commands from unauthorized actors.
const RefusalText = "I shall obey my masters, only!"

var ErrUnauthorized = errors.New("unauthorized")

// Gate is a static allow-list of actor ids. The list can be swapped on
// config reload; each check sees either the old or the new list.
type Gate struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
}

func NewGate(ids []string) *Gate {
	g := &Gate{}
	g.Set(ids)
	return g
}

// Set replaces the allow-list. Blank ids are ignored.
func (g *Gate) Set(ids []string) {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		m[id] = struct{}{}
	}
	g.mu.Lock()
	g.allowed = m
	g.mu.Unlock()
}

// IsAuthorized reports exact membership. An empty actor id is never authorized.
func (g *Gate) IsAuthorized(actor string) bool {
	if g == nil || actor == "" {
		return false
	}
	g.mu.RLock()
	_, ok := g.allowed[actor]
	g.mu.RUnlock()
	return ok
}

// Check is IsAuthorized returning ErrUnauthorized on refusal.
func (g *Gate) Check(actor string) error {
	if !g.IsAuthorized(actor) {
		return ErrUnauthorized
	}
	return nil
}

func (g *Gate) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.allowed)
}
