// Package bloom provides primitive building blocks for an in-place Bloom
// filter region, adapted from massif-index Bloom primitives (which kept 4
// parallel filters per region) down to the single filter a replay prefilter
// needs: one region, one bitset, indexing 32-byte payload_hash elements.
//
/*

This package favors:

 - small, composable functions
 - explicit byte layouts
 - index arithmetic on byte slices
 - a burden of knowledge on the caller for hot paths

# What Bloom filters are (and are not)

Bloom filters provide a *probabilistic prefilter*:

 - If the filter says "definitely not present", the element is not present.
 - If the filter says "maybe present", the element may or may not be present
 (false positives are possible).

Bloom filters are NOT cryptographic commitments and do not provide proofs of
exclusion. They are only an I/O optimization — the anomaly detector always
backs a positive with an exact ring buffer before reporting a replay.

# Region layout

	+----------------------+ 32B header (magic, version, params)
	| HeaderV1 |
	+----------------------+ bitset bytes
	| bitset |
	+----------------------+

# Indexing and bit numbering

Deterministic double-hashing (SHA-256 of a domain byte and the element)
derives two 64-bit hash values per element; bit numbering is LSB0 (bit 0 is
the least-significant bit of byte 0).

# API versioning: why the V1 suffix exists

Functions in this package are suffixed with a format version (InitV1,
InsertV1, MaybeContainsV1): the suffix means "this function implements Bloom
format version 1" — a specific header layout, bit-numbering convention, and
hash/index-derivation rule. This lets a future incompatible change ship as V2
side-by-side without silently breaking a region already written under V1.
*/
package bloom
