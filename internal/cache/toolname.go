package cache

import (
	"regexp"
	"strings"
	"time"

	"antigravity-gateway/internal/pressure"
)

const toolNameTTL = 30 * time.Minute

var toolNameDisallowed = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ToolNameCache maps (sessionId, model, sanitizedName) -> originalName so
// outbound streams can restore the name the client actually sent, per
// §4.2/§8.
type ToolNameCache struct {
	ttl *TTLMap[string]
}

func NewToolNameCache(src *pressure.Source) *ToolNameCache {
	c := &ToolNameCache{ttl: NewTTLMap[string](512)}
	src.Subscribe(pressure.SubscriberFunc(func(level pressure.Level) {
		switch level {
		case pressure.Medium:
			c.ttl.Resize(256)
		case pressure.High:
			c.ttl.Resize(128)
		case pressure.Critical:
			c.ttl.Clear()
			c.ttl.Resize(0)
		default:
			c.ttl.Resize(512)
		}
	}))
	return c
}

func toolKey(sessionID, model, sanitized string) string {
	return sessionID + "\x00" + model + "\x00" + sanitized
}

// Sanitize normalizes a tool name to ^[A-Za-z0-9_-]{1,128}$ per §4.2 and
// records the mapping back to the original for this (sessionId, model).
func (c *ToolNameCache) Sanitize(sessionID, model, original string) string {
	sanitized := toolNameDisallowed.ReplaceAllString(original, "_")
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "tool"
	}
	if len(sanitized) > 128 {
		sanitized = sanitized[:128]
	}
	if sanitized != original {
		c.ttl.Set(toolKey(sessionID, model, sanitized), original, toolNameTTL)
	}
	return sanitized
}

// Original resolves a sanitized name back to what the client sent; returns
// ("", false) if no mapping was recorded (name was unchanged).
func (c *ToolNameCache) Original(sessionID, model, sanitized string) (string, bool) {
	return c.ttl.Get(toolKey(sessionID, model, sanitized))
}
