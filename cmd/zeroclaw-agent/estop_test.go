package main

import "testing"

func TestParseLevelKillAll(t *testing.T) {
	level, err := parseLevel("kill-all")
	if err != nil {
		t.Fatalf("parseLevel: %v", err)
	}
	if !level.KillAll {
		t.Fatalf("expected KillAll level, got %+v", level)
	}
}

func TestParseLevelDomainBlock(t *testing.T) {
	level, err := parseLevel("domain-block:a.com,b.com")
	if err != nil {
		t.Fatalf("parseLevel: %v", err)
	}
	if len(level.DomainBlock) != 2 || level.DomainBlock[0] != "a.com" || level.DomainBlock[1] != "b.com" {
		t.Fatalf("expected two domains, got %+v", level.DomainBlock)
	}
}

func TestParseLevelRejectsUnknownToken(t *testing.T) {
	if _, err := parseLevel("not-a-level"); err == nil {
		t.Fatalf("expected error for unrecognized level token")
	}
}
