// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package wireconfig

import (
	"strings"
	"testing"
)

func TestParseValidConfig(t *testing.T) {
	src := `
f 1
replica 10.0.0.1:9001%0
replica 10.0.0.2:9001%1
replica 10.0.0.3:9001%2
multicast 239.0.0.1:9001%0
`
	cfg, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.F != 1 {
		t.Fatalf("expected f=1, got %d", cfg.F)
	}
	if len(cfg.Replicas) != 3 {
		t.Fatalf("expected 3 replicas, got %d", len(cfg.Replicas))
	}
	if !cfg.HasMulticast || cfg.Multicast != "239.0.0.1:9001%0" {
		t.Fatalf("unexpected multicast: %+v", cfg)
	}
}

func TestParseIgnoresBlankAndCommentLines(t *testing.T) {
	src := "\n# a comment\nf 0\n\nreplica a\n# trailing\n"
	cfg, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.F != 0 || len(cfg.Replicas) != 1 {
		t.Fatalf("unexpected parse result: %+v", cfg)
	}
}

func TestParseMissingFIsError(t *testing.T) {
	_, err := Parse(strings.NewReader("replica a\n"))
	if err == nil {
		t.Fatal("expected an error for a config missing the required f directive")
	}
}

func TestParseNoReplicasIsError(t *testing.T) {
	_, err := Parse(strings.NewReader("f 1\n"))
	if err == nil {
		t.Fatal("expected an error for a config with no replica directives")
	}
}

func TestParseUnknownDirectiveIsError(t *testing.T) {
	_, err := Parse(strings.NewReader("f 1\nreplica a\nbogus x\n"))
	if err == nil {
		t.Fatal("expected an error for an unrecognized directive")
	}
}

func TestParseInvalidFIsError(t *testing.T) {
	_, err := Parse(strings.NewReader("f notanumber\nreplica a\n"))
	if err == nil {
		t.Fatal("expected an error for a non-numeric f argument")
	}
}
