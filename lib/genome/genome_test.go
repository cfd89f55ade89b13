// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package genome

import "testing"

func TestComputeDeterministic(t *testing.T) {
	artifact := []byte("name: latency-7f\npoll_interval_s: 15\n")
	phenotype := []byte(`{"batch_size":32}`)

	if Compute(artifact, phenotype) != Compute(artifact, phenotype) {
		t.Fatal("same inputs produced different hashes")
	}
}

func TestComputeSeparatesParts(t *testing.T) {
	first := Compute([]byte("ab"), []byte("c"))
	second := Compute([]byte("a"), []byte("bc"))
	if first == second {
		t.Error("moving a byte between artifact and phenotype did not change the hash")
	}
}

func TestParseRoundTrip(t *testing.T) {
	hash := Compute([]byte("artifact"), []byte("{}"))
	parsed, err := Parse(hash.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != hash {
		t.Errorf("Parse(String()) = %s, want %s", parsed, hash)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	for _, input := range []string{"zz", "abcd", ""} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", input)
		}
	}
}
