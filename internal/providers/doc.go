// Package providers holds the shared plumbing for speech provider clients.
// Concrete clients live in the elevenlabs and openai subpackages.
package providers
