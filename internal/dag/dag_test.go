package dag

import "testing"

func TestBuildGraph(t *testing.T) {
	g, err := Build(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	order := g.Order()
	if len(order) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(order))
	}
	idx := map[string]int{}
	for i, id := range order {
		idx[id] = i
	}
	if idx["a"] >= idx["b"] || idx["b"] >= idx["c"] {
		t.Fatalf("wrong order: %v", order)
	}
}

func TestBuildGraphCycleDetection(t *testing.T) {
	_, err := Build(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestBuildGraphIgnoresUnknownDeps(t *testing.T) {
	g, err := Build(map[string][]string{
		"a": {"ghost"},
		"b": {"a"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	order := g.Order()
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("wrong order: %v", order)
	}
}

func TestBuildGraphLexicographicTieBreak(t *testing.T) {
	g, err := Build(map[string][]string{
		"zeta":  nil,
		"alpha": nil,
		"mid":   nil,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	order := g.Order()
	want := []string{"alpha", "mid", "zeta"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("order[%d]: got %q, want %q (full: %v)", i, order[i], id, order)
		}
	}
}

func TestGraphRootsAndChildren(t *testing.T) {
	g, err := Build(map[string][]string{
		"base":  nil,
		"midA":  {"base"},
		"midB":  {"base"},
		"leaf":  {"midA", "midB"},
		"loner": nil,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	roots := g.Roots()
	if len(roots) != 2 || roots[0] != "base" || roots[1] != "loner" {
		t.Fatalf("roots: %v", roots)
	}

	children := g.Children("base")
	if len(children) != 2 {
		t.Fatalf("children of base: %v", children)
	}
	if got := g.Parents("leaf"); len(got) != 2 {
		t.Fatalf("parents of leaf: %v", got)
	}
}
