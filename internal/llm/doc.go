// Package llm contains adapters for invoking large language models to
// narrate disbursement batches. It abstracts away provider-specific APIs and
// always offers a deterministic fallback so the pipelines never depend on
// model availability.
package llm
