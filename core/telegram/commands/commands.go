package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
	// Gated commands run only for users the access gate allows.
	Gated   bool
	Aliases []string
}

// Names returns the command key followed by its aliases, each with a
// leading slash.
func (c Command) Names(key string) []string {
	names := []string{key}
	for _, a := range c.Aliases {
		if a == "" {
			continue
		}
		if a[0] != '/' {
			a = "/" + a
		}
		names = append(names, a)
	}
	return names
}
