// Relay is a local failover proxy for AI APIs.
//
// It listens on loopback, forwards every request to the active backend of a
// failover group, converts between the Anthropic, OpenAI and Gemini wire
// formats when the client and backend disagree, and rotates to the next
// backend in the group when one keeps failing.
//
// Usage:
//
//	# Start the relay
//	relay run
//
//	# Register a group and two backends, then turn on auto-switch
//	relay group add work
//	relay backend add --group 1 --name primary --provider openai --base-url https://api.openai.com/v1 --api-key sk-...
//	relay backend add --group 1 --name fallback --provider anthropic --base-url https://api.anthropic.com --api-key sk-ant-...
//	relay group auto-switch 1 on
//
//	# Pick the active backend (works against a running relay too)
//	relay switch 1
//
//	# Inspect recent requests and switches
//	relay logs requests --errors
//	relay logs switches
package main

func main() {
	Execute()
}
