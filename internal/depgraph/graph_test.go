package depgraph

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func buildGraph(t *testing.T, files []SourceFile) *Graph {
	t.Helper()
	g, err := NewBuilder(ECMAScript(), nil).Build(context.Background(), files)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

func TestBuildEdges(t *testing.T) {
	files := []SourceFile{
		{Path: "app.ts", Content: "import { q } from './core/queue'\nimport fs from 'fs'\n"},
		{Path: "core/queue.ts", Content: "import { t } from './task'\nconst x = require('./task')\n"},
		{Path: "core/task.ts", Content: "export const t = 1\n"},
	}
	g := buildGraph(t, files)

	if got := g.Imports("app.ts"); !reflect.DeepEqual(got, []string{"core/queue.ts"}) {
		t.Errorf("app.ts imports = %v, want [core/queue.ts]", got)
	}
	// Duplicate import forms of the same target collapse to one edge, and
	// the unresolved 'fs' import is ignored.
	if got := g.Imports("core/queue.ts"); !reflect.DeepEqual(got, []string{"core/task.ts"}) {
		t.Errorf("core/queue.ts imports = %v, want [core/task.ts]", got)
	}
	if got := g.Imports("core/task.ts"); len(got) != 0 {
		t.Errorf("core/task.ts imports = %v, want none", got)
	}
}

func TestBuildDropsSelfEdges(t *testing.T) {
	files := []SourceFile{
		{Path: "a.ts", Content: "import { x } from './a'\n"},
	}
	g := buildGraph(t, files)
	if got := g.Imports("a.ts"); len(got) != 0 {
		t.Errorf("self-edge not dropped: %v", got)
	}
}

func TestBuildIndexResolution(t *testing.T) {
	files := []SourceFile{
		{Path: "main.ts", Content: "import { u } from './util'\n"},
		{Path: "util/index.ts", Content: "export const u = 1\n"},
	}
	g := buildGraph(t, files)
	if got := g.Imports("main.ts"); !reflect.DeepEqual(got, []string{"util/index.ts"}) {
		t.Errorf("main.ts imports = %v, want [util/index.ts]", got)
	}
}

func TestBuildSkipsMalformedFiles(t *testing.T) {
	lang := ECMAScript()
	lang.MaxLineLen = 40 // Force a scanner failure on the long line
	files := []SourceFile{
		{Path: "good.ts", Content: "import {b} from './bad'\n"},
		{Path: "bad.ts", Content: "import { x } from './good' // this line is far too long for the configured limit\n"},
	}
	g, err := NewBuilder(lang, nil).Build(context.Background(), files)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// bad.ts is skipped but stays a node; good.ts still resolves to it.
	if got := g.Imports("good.ts"); !reflect.DeepEqual(got, []string{"bad.ts"}) {
		t.Errorf("good.ts imports = %v, want [bad.ts]", got)
	}
	if got := g.Imports("bad.ts"); len(got) != 0 {
		t.Errorf("bad.ts should have no edges, got %v", got)
	}
}

func TestDetectCycles(t *testing.T) {
	tests := []struct {
		name  string
		files []SourceFile
		want  []Cycle
	}{
		{
			name: "three file cycle reported once",
			files: []SourceFile{
				{Path: "a.ts", Content: "import { b } from './b'\n"},
				{Path: "b.ts", Content: "import { c } from './c'\n"},
				{Path: "c.ts", Content: "import { a } from './a'\n"},
			},
			want: []Cycle{{"a.ts", "b.ts", "c.ts"}},
		},
		{
			name: "acyclic graph",
			files: []SourceFile{
				{Path: "a.ts", Content: "import { b } from './b'\n"},
				{Path: "b.ts", Content: "import { c } from './c'\n"},
				{Path: "c.ts", Content: "export const c = 1\n"},
			},
			want: nil,
		},
		{
			name: "two independent cycles",
			files: []SourceFile{
				{Path: "a.ts", Content: "import { b } from './b'\n"},
				{Path: "b.ts", Content: "import { a } from './a'\n"},
				{Path: "x.ts", Content: "import { y } from './y'\n"},
				{Path: "y.ts", Content: "import { x } from './x'\n"},
			},
			want: []Cycle{{"a.ts", "b.ts"}, {"x.ts", "y.ts"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, tt.files)
			got := g.DetectCycles()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DetectCycles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderFailsOnCycle(t *testing.T) {
	g := buildGraph(t, []SourceFile{
		{Path: "a.ts", Content: "import { b } from './b'\n"},
		{Path: "b.ts", Content: "import { a } from './a'\n"},
	})
	if _, err := g.Order(); err == nil {
		t.Fatal("Order() on cyclic graph should fail")
	}
}

func TestOrderDependenciesFirst(t *testing.T) {
	g := buildGraph(t, []SourceFile{
		{Path: "a.ts", Content: "import { b } from './b'\n"},
		{Path: "b.ts", Content: "import { c } from './c'\n"},
		{Path: "c.ts", Content: "export const c = 1\n"},
	})
	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order() failed: %v", err)
	}
	pos := make(map[string]int, len(order))
	for i, p := range order {
		pos[p] = i
	}
	if !(pos["c.ts"] < pos["b.ts"] && pos["b.ts"] < pos["a.ts"]) {
		t.Errorf("Order() = %v, want c before b before a", order)
	}
}

func TestImpact(t *testing.T) {
	// fan-in: b and c import a; d imports b.
	files := []SourceFile{
		{Path: "a.ts", Content: "export const a = 1\n"},
		{Path: "b.ts", Content: "import { a } from './a'\n"},
		{Path: "c.ts", Content: "import { a } from './a'\n"},
		{Path: "d.ts", Content: "import { b } from './b'\n"},
	}
	g := buildGraph(t, files)

	analysis, err := g.Impact("a.ts", Thresholds{Low: 2, Medium: 8})
	if err != nil {
		t.Fatalf("Impact failed: %v", err)
	}
	if want := []string{"b.ts", "c.ts"}; !reflect.DeepEqual(analysis.DirectDependents, want) {
		t.Errorf("direct = %v, want %v", analysis.DirectDependents, want)
	}
	if want := []string{"b.ts", "c.ts", "d.ts"}; !reflect.DeepEqual(analysis.TransitiveDependents, want) {
		t.Errorf("transitive = %v, want %v", analysis.TransitiveDependents, want)
	}
	if analysis.Risk != RiskMedium {
		t.Errorf("risk = %v, want medium (3 transitive dependents)", analysis.Risk)
	}

	// Leaf node: nothing depends on d.
	leaf, err := g.Impact("d.ts", DefaultThresholds())
	if err != nil {
		t.Fatalf("Impact failed: %v", err)
	}
	if len(leaf.DirectDependents) != 0 || len(leaf.TransitiveDependents) != 0 {
		t.Errorf("leaf analysis should be empty, got %+v", leaf)
	}
	if leaf.Risk != RiskLow {
		t.Errorf("leaf risk = %v, want low", leaf.Risk)
	}
}

func TestImpactUnknownFile(t *testing.T) {
	g := buildGraph(t, []SourceFile{{Path: "a.ts", Content: ""}})
	if _, err := g.Impact("missing.ts", DefaultThresholds()); !errors.Is(err, ErrUnknownFile) {
		t.Errorf("err = %v, want ErrUnknownFile", err)
	}
}

func TestImpactExcludesQueriedNodeInCycle(t *testing.T) {
	g := buildGraph(t, []SourceFile{
		{Path: "a.ts", Content: "import { b } from './b'\n"},
		{Path: "b.ts", Content: "import { a } from './a'\n"},
	})
	analysis, err := g.Impact("a.ts", DefaultThresholds())
	if err != nil {
		t.Fatalf("Impact failed: %v", err)
	}
	if want := []string{"b.ts"}; !reflect.DeepEqual(analysis.TransitiveDependents, want) {
		t.Errorf("transitive = %v, want %v (queried node excluded)", analysis.TransitiveDependents, want)
	}
}

func TestThresholdsGrade(t *testing.T) {
	th := Thresholds{Low: 2, Medium: 8}
	tests := []struct {
		count int
		want  RiskLevel
	}{
		{0, RiskLow}, {2, RiskLow}, {3, RiskMedium}, {8, RiskMedium}, {9, RiskHigh},
	}
	for _, tt := range tests {
		if got := th.Grade(tt.count); got != tt.want {
			t.Errorf("Grade(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}
