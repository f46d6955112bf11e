// Package tsv reads, writes and splits entity data tables.
//
// A data table is a tab-separated file whose first line is the header. The
// first header column names the entity identifier using the convention
// `entity:<type>_id`; the remaining columns are attribute names. Values are
// written verbatim and a missing attribute is written as an empty string.
//
// # Splitting
//
// Use [NewSplitter] to partition a table into [Chunk]s of a fixed number of
// data lines. Every chunk carries the header so it can be submitted on its own.
// Call [Splitter.Next] until it returns io.EOF; the final chunk holds the
// remainder rows and is never dropped.
//
// Options:
//   - [WithBlockSize]: data lines per chunk (default 5000)
//   - [WithHeaderCheck]: reject headers that do not match [IDPattern]
//   - [WithSource]: name used in error messages
//
// # Writing
//
// [Writer] streams rows for a fixed column set. Rows are maps keyed by column
// name; columns absent from a row are written as empty strings.
//
// # Tables
//
// [ReadTable] materializes a whole table in memory. It is meant for small
// tables and for comparing round trips, not for bulk transfer.
package tsv
