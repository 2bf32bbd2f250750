// Package reply synthesizes assistant responses for the chat transcript.
// The Generator contract is synchronous text-in/text-out so a real
// inference backend can replace the canned implementation without
// touching the transcript service.
package reply

import (
	"math/rand"
	"sync"
)

type Generator interface {
	Reply(message string) string
}

// Canned picks a response at random from a fixed list. It is a
// placeholder, not an AI system. A single instance is shared across
// request goroutines; rand.Rand is not safe for concurrent use, so
// every pick holds the mutex.
type Canned struct {
	responses []string

	mu  sync.Mutex
	rng *rand.Rand
}

var cannedResponses = []string{
	"I understand your question. Based on the information provided, I'd recommend focusing on improving your customer engagement strategy.",
	"That's a great point. Let me suggest a few approaches that have worked well for similar businesses.",
	"I can help with that! Here's a step-by-step process you might want to follow.",
	"Thanks for sharing that information. Have you considered looking at this from a different perspective?",
	"I see what you're trying to accomplish. Let me provide some insights that might be useful for your specific case.",
}

func NewCanned(seed int64) *Canned {
	return &Canned{
		responses: cannedResponses,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (c *Canned) Reply(string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responses[c.rng.Intn(len(c.responses))]
}
