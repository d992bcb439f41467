// Package core defines the shared language of the csvchat system.
//
// This package contains:
//   - Domain entities (Session, Message, Role)
//   - Service interfaces (Store, BlobStore, Runtime, CodeGenerator)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
