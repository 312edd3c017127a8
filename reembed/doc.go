// Package reembed embeds the records of a type synchronously, without the
// provider's batch API.
//
// Records are paged from a catalog.Source, embedded one page per EmbedTexts
// call and upserted into a vector store. Provider calls are retried with
// exponential backoff and progress is written to an io.Writer. It is the
// path for local OpenAI-compatible servers that do not offer batches.
package reembed
