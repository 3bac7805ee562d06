package game

import "time"

const (
	DefaultCooldownThreshold = 2
	DefaultCooldownDuration  = 5000 * time.Millisecond
)

// CooldownPolicy freezes a player's buzzer after Threshold consecutive correct
// answers. A non-positive Threshold disables cooldowns.
type CooldownPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultCooldownPolicy returns the 2-in-a-row / 5 s policy.
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{Threshold: DefaultCooldownThreshold, Duration: DefaultCooldownDuration}
}

// OnCorrect records a correct answer. Reaching the threshold only marks the
// cooldown pending; Activate turns it into an expiry.
func (p CooldownPolicy) OnCorrect(pl *Player) {
	pl.CorrectCount++
	pl.ConsecutiveCorrect++
	if p.Threshold > 0 && pl.ConsecutiveCorrect >= p.Threshold {
		pl.CooldownPending = true
		pl.ConsecutiveCorrect = 0
	}
}

// OnWrong breaks the streak. Points already awarded stay.
func (p CooldownPolicy) OnWrong(pl *Player) {
	pl.ConsecutiveCorrect = 0
}

// Activate converts a pending cooldown into CooldownEnd = now + Duration.
func (p CooldownPolicy) Activate(pl *Player, now time.Time) bool {
	if !pl.CooldownPending {
		return false
	}
	pl.CooldownPending = false
	pl.CooldownEnd = now.Add(p.Duration)
	return true
}

// CooldownActive reports whether the player is still frozen at now.
func (pl *Player) CooldownActive(now time.Time) bool {
	return pl.CooldownEnd.After(now)
}

// CooldownRemaining is the time left before the player may buzz again.
func (pl *Player) CooldownRemaining(now time.Time) time.Duration {
	if !pl.CooldownActive(now) {
		return 0
	}
	return pl.CooldownEnd.Sub(now)
}
