package entities

// Checklist tracks the three liveness conditions gating a terminal decision.
// The blink flag can only be raised once the challenge flag is set; the
// ordering is enforced by the setter, not merely recorded.
type Checklist struct {
	spoofCheck bool
	challenge  bool
	blink      bool
}

func (c *Checklist) MarkSpoofCheckPassed() { c.spoofCheck = true }

func (c *Checklist) MarkChallengeCompleted() { c.challenge = true }

// MarkBlinkDetected is a no-op unless the challenge was already completed.
func (c *Checklist) MarkBlinkDetected() {
	if c.challenge {
		c.blink = true
	}
}

func (c *Checklist) SpoofCheckPassed() bool   { return c.spoofCheck }
func (c *Checklist) ChallengeCompleted() bool { return c.challenge }
func (c *Checklist) BlinkDetected() bool      { return c.blink }

// AllPassed reports whether every condition is satisfied.
func (c *Checklist) AllPassed() bool {
	return c.spoofCheck && c.challenge && c.blink
}

// Pending returns the names of unsatisfied conditions.
func (c *Checklist) Pending() []string {
	var pending []string
	if !c.spoofCheck {
		pending = append(pending, "spoof_check")
	}
	if !c.challenge {
		pending = append(pending, "challenge")
	}
	if !c.blink {
		pending = append(pending, "blink")
	}
	return pending
}

// Reset clears every flag.
func (c *Checklist) Reset() {
	c.spoofCheck = false
	c.challenge = false
	c.blink = false
}
