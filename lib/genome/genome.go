// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package genome computes content addresses for zooid variants.
//
// A genome hash is a BLAKE3 keyed hash over a variant's rendered
// artifact and its canonical serialized phenotype. The key provides
// domain separation: the same bytes hashed for another purpose never
// collide with a genome address. Hashes are rendered as 64-character
// lowercase hex in the registry's genomes map and in the spawn journal.
package genome

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// genomeDomainKey is a fixed 32-byte key: ASCII "zooid.genome",
// zero-padded. Changing it invalidates every registered genome hash.
var genomeDomainKey = [32]byte{
	'z', 'o', 'o', 'i', 'd', '.', 'g', 'e', 'n', 'o', 'm', 'e',
}

// Compute hashes a rendered artifact together with its serialized
// phenotype. Each part is length-prefixed so that moving bytes between
// the artifact and the phenotype changes the hash.
func Compute(artifact, phenotype []byte) Hash {
	hasher, err := blake3.NewKeyed(genomeDomainKey[:])
	if err != nil {
		panic("genome: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(artifact)))
	hasher.Write(length[:])
	hasher.Write(artifact)
	binary.BigEndian.PutUint64(length[:], uint64(len(phenotype)))
	hasher.Write(length[:])
	hasher.Write(phenotype)

	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Parse decodes a 64-character hex string into a Hash.
func Parse(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing genome hash: %w", err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("genome hash is %d bytes, want %d", len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}
