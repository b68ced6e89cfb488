// Package agent contains the query orchestrator. It loads the configured
// Cortex tools, streams one agent run into a single result and, when the
// agent produced SQL, executes it once and attaches the outcome.
package agent
