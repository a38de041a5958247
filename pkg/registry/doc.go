// Package registry maps command names onto bus registers.
//
// A Descriptor is the full wire knowledge about one command: its RCA,
// direction, payload encoding and reply decoding. Descriptors are
// grouped into capability Layers (one per hardware capability), and
// layers are combined with Compose into an immutable Registry.
//
// Compose validates the combination: two descriptors may not share a
// command name, and no (RCA, direction) pair may be claimed twice.
// Collisions fail at composition time with a *ConflictError, never at
// call time.
package registry
