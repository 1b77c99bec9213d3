/*
Package ports defines the driven ports (interfaces) for the palette engine.

These interfaces decouple the core logic from external implementations,
allowing the engine to work with various storage backends and content
providers.

# Key Interfaces

  - SessionStore: persists and loads suggestion Sessions (memory, Redis).
  - Provider: one independently streamed content-generation backend.
  - DistributedLocker: distributed locking for concurrent session access
    across replicas.
*/
package ports
