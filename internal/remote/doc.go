// Package remote is the boundary to the store records are imported into.
//
// Client is the four-call surface the import engine needs. Implementations:
//
//   - WebAPI: OData v4 Web API over HTTP
//   - MemoryStore: in-process store for dry runs and tests
//
// Decorators add behaviour around any Client: WithRetry retries transient
// faults with exponential backoff, WithTimeout bounds every call.
package remote
