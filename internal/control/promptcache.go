package control

// PromptCache remembers the best-scoring prompt of a run and hands it back
// once after a rollback request.
type PromptCache struct {
	best      string
	bestScore float64
	has       bool
	pending   bool
}

// NewPromptCache returns an empty cache.
func NewPromptCache() *PromptCache {
	return &PromptCache{}
}

// Observe records prompt with its score. Returns true on a new best.
func (c *PromptCache) Observe(prompt string, score float64) bool {
	if prompt == "" || score < 0 {
		return false
	}
	if !c.has || score > c.bestScore {
		c.best, c.bestScore, c.has = prompt, score, true
		return true
	}
	return false
}

// RequestRollback arms a one-shot revert to the best prompt.
func (c *PromptCache) RequestRollback() {
	c.pending = true
}

// Next returns the best prompt if a rollback is armed, otherwise candidate.
// The second return reports whether the rollback fired. The rollback stays
// armed until Commit so a failed iteration retries it.
func (c *PromptCache) Next(candidate string) (string, bool) {
	if c.pending && c.has {
		return c.best, true
	}
	return candidate, false
}

// Commit disarms a pending rollback once its sample has been admitted.
func (c *PromptCache) Commit() {
	c.pending = false
}

// Best returns the best prompt and its score.
func (c *PromptCache) Best() (string, float64, bool) {
	return c.best, c.bestScore, c.has
}
