// Package nlp defines the language-model client contract used by the search
// strategies, an OpenAI-backed implementation, and composable wrappers for
// retries, circuit breaking, and response caching.
package nlp
