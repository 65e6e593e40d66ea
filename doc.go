// Package shiftlog turns a chat-platform user's raw participation across
// many channels into a small set of coherent, narrated topics suitable for
// a daily or weekly timesheet.
//
// The package holds the data model and the interfaces ([Store], [ChatClient],
// [LLMProvider], [EmbeddingProvider]) that the feature packages (fetch,
// segment, reference, embedding, consolidate, summarize, llm, aggregate)
// depend on. Concrete implementations live under store/ and llm/.
package shiftlog

// SchemaVersion is embedded in every assembled [Report] so downstream
// renderers can detect incompatible changes to the report shape.
const SchemaVersion = 1
