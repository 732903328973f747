// Package llm is the completion-service client used by the agent loop.
//
// It presents a small provider-agnostic surface: a Request carrying the
// conversation as typed messages plus tool definitions, and a Response
// carrying the assistant message as a list of content parts (text, thinking,
// tool calls). Provider backends implement ProviderAdapter; the gollm-backed
// adapter is the default. Errors are classified by retryability so that the
// caller can apply a bounded exponential-backoff retry policy to transient
// failures (network, rate limiting, server errors) while surfacing
// caller-correctable errors immediately.
package llm
