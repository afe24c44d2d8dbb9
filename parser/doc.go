// Package parser decodes a tape into a navigable trace model.
//
// Loading frames the tape's chapters one after another, decodes chapter
// payloads in parallel, and then reconstructs threads, the span forest and
// event timelines from the decoded records in tape order.
//
// Failure handling:
//
//   - An unsupported major version or a missing magic is a *FormatError.
//   - A chapter that fails its integrity checks before the end of the tape is a
//     *CorruptChapterError and fails the load.
//   - A damaged or incomplete final chapter is dropped. The load succeeds with a
//     TruncatedTail warning and Model.Partial reports true.
//   - Everything else degrades to warnings: unknown record kinds are skipped,
//     spans without an exit are open-ended, exits without an enter are ignored.
//
// Open-ended spans never extend Model.TimeRange because their end is unknown.
package parser
