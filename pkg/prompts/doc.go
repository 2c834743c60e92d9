// Package prompts holds the system prompt templates for every search
// strategy and the helpers that assemble them into message sequences.
// Templates take assembled context data and the user query; they never read
// the knowledge graph themselves.
package prompts
