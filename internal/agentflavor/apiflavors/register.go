package apiflavors

import (
	"os"

	"sprinty/internal/agentflavor"
)

// RegisterAll adds every direct-API flavor to r, each keyed off its own
// environment variable per SPEC_FULL.md §6's "agent API key passed through
// unchanged" contract. A flavor registers even with an empty/unreachable
// credential; Registry.Get still resolves it, and CheckInstalled is what
// tells the caller it is unusable — consistent with the subprocess flavors,
// which register unconditionally and rely on CheckInstalled rather than on
// registration itself to signal availability.
func RegisterAll(r *agentflavor.Registry) {
	r.Register(NewAnthropic(os.Getenv("SPRINTY_ANTHROPIC_API_KEY")))
	r.Register(NewOpenAI(os.Getenv("SPRINTY_OPENAI_API_KEY")))
	r.Register(NewGemini(os.Getenv("SPRINTY_GEMINI_API_KEY")))
	r.Register(NewOllama(os.Getenv("SPRINTY_OLLAMA_HOST")))
}
