package merkavl

import "errors"

var (
	// ErrVersionMissing is returned when a root is requested for a version
	// that was never committed or has been deleted.
	ErrVersionMissing = errors.New("version does not exist")

	// ErrInvalidRange is returned for range queries where both bounds are
	// present and start >= end.
	ErrInvalidRange = errors.New("invalid range: start must be less than end")

	// ErrEmptyProof is returned when a proof carries no leaves.
	ErrEmptyProof = errors.New("proof has no leaves")

	// ErrMalformedProof is returned when the shape of a proof is
	// inconsistent: inner path count does not match leaf count, an inner
	// path is missing, or leaves are left over after the root is derived.
	ErrMalformedProof = errors.New("malformed proof")

	// ErrRootMismatch is returned when a re-derived digest does not equal
	// the expected one.
	ErrRootMismatch = errors.New("computed root hash does not match")

	// ErrAbsenceDisproved is returned by VerifyAbsence when the queried key
	// is present in the proof.
	ErrAbsenceDisproved = errors.New("absence disproved: key is in proof")

	// ErrAbsenceNotProven is returned by VerifyAbsence when the proof does
	// not cover enough of the tree to rule the key out.
	ErrAbsenceNotProven = errors.New("absence not proven")

	// ErrValueDigestMismatch is returned by VerifyItem when the value's
	// digest differs from the one recorded in the proof leaf.
	ErrValueDigestMismatch = errors.New("value digest does not match proof")

	// ErrKeyNotInProof is returned by VerifyItem when the key is absent
	// from the proof leaves.
	ErrKeyNotInProof = errors.New("key not found in proof")

	// ErrNodeMissing is returned by a backend when no node exists for the
	// requested digest.
	ErrNodeMissing = errors.New("node does not exist")
)
