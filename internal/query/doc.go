// Package query describes per-entity retrieval of records to import and
// compiles it to the two backends portalmover reads from:
//
//   - OData query options for the remote Web API (CompileOData)
//   - parameterized SQLite over the staging table (SQLCompiler)
//
// Predicates form a sealed set so both compilers can switch exhaustively.
// The portable fragment is deliberately small: equality, a lower time
// bound, and conjunction.
package query
