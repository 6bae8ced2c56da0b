package cache

import (
	"time"

	"antigravity-gateway/internal/pressure"
)

const signatureTTL = 30 * time.Minute

// SignatureCache stores the last-seen thought/tool signature for a
// (sessionId, model) pair, per §3. One instance exists for reasoning
// signatures and a separate instance for tool signatures, sharing this
// same type but distinct pressure caps would be identical since §3 gives
// both caches the same 256-entry low-pressure capacity.
type SignatureCache struct {
	ttl *TTLMap[entry]
}

type entry struct {
	signature string
	timestamp time.Time
}

// NewSignatureCache builds the cache and subscribes it to src so its
// capacity shrinks under medium/high/critical pressure per §3's schedule
// (256 at low, half/quarter/zero thereafter).
func NewSignatureCache(src *pressure.Source) *SignatureCache {
	c := &SignatureCache{ttl: NewTTLMap[entry](256)}
	src.Subscribe(pressure.SubscriberFunc(func(level pressure.Level) {
		switch level {
		case pressure.Medium:
			c.ttl.Resize(128)
		case pressure.High:
			c.ttl.Resize(64)
		case pressure.Critical:
			c.ttl.Clear()
			c.ttl.Resize(0)
		default:
			c.ttl.Resize(256)
		}
	}))
	return c
}

func key(sessionID, model string) string { return sessionID + "\x00" + model }

func (c *SignatureCache) Get(sessionID, model string) (string, bool) {
	e, ok := c.ttl.Get(key(sessionID, model))
	if !ok {
		return "", false
	}
	return e.signature, true
}

func (c *SignatureCache) Set(sessionID, model, signature string) {
	c.ttl.Set(key(sessionID, model), entry{signature: signature, timestamp: time.Now()}, signatureTTL)
}
