package main

import (
	"strings"
	"testing"
)

func TestFindViolationsFlagsPlanningImports(t *testing.T) {
	input := `{"ImportPath":"citynav/internal/net","Imports":["citynav","net/http"]}
{"ImportPath":"citynav/internal/net/ws","Imports":["citynav/internal/grid","citynav/internal/astar","citynav/internal/requests"]}
{"ImportPath":"citynav/internal/net/proto","Imports":["citynav/internal/geom","citynav/internal/gridlike"]}`

	violations, err := findViolations(strings.NewReader(input))
	if err != nil {
		t.Fatalf("findViolations returned error: %v", err)
	}
	want := []string{
		"citynav/internal/net/ws -> citynav/internal/astar",
		"citynav/internal/net/ws -> citynav/internal/grid",
	}
	if len(violations) != len(want) {
		t.Fatalf("expected %d violations, got %v", len(want), violations)
	}
	for i := range want {
		if violations[i] != want[i] {
			t.Fatalf("violation %d: expected %q, got %q", i, want[i], violations[i])
		}
	}
}

func TestFindViolationsRejectsGarbage(t *testing.T) {
	if _, err := findViolations(strings.NewReader("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}
