// Package svod implements the verified block device beneath an SVOD
// container.
//
// An SVOD payload is split across fragment files named Data0000,
// Data0001 and so on. Each fragment starts with a top hash block,
// followed by groups of one mid hash block and the data blocks it
// covers. Every 4096-byte block is checked against the SHA-1 digest
// held by its parent before it is returned; the first fragment's top
// block is checked against the root digest from the volume descriptor
// and each later fragment's top block against a digest chained from
// the fragment before it.
//
// Key Components:
//   - Store: fragment files presented as one seekable address space
//   - Descriptor: the 36-byte volume descriptor from the content header
//   - Cache: a fixed-size LRU ring of verified blocks shared by all levels
//   - Device: page-addressed reads of the emulated disc, including the
//     zero-filled lead-in before the payload
//
// A Device is safe for concurrent use. Cache state is guarded by one
// mutex; raw fragment reads are serialized per fragment.
package svod
