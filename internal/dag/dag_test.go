package dag

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/specialistvlad/deploygrid/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(network, contract string) target.Identity {
	return target.Identity{Contract: contract, Network: network}
}

func tgt(network, contract string, deps ...string) *target.Target {
	refs := make([]target.Reference, 0, len(deps))
	for _, d := range deps {
		refs = append(refs, target.Reference(d))
	}
	return &target.Target{Spec: target.Spec{
		Identity:  id(network, contract),
		DependsOn: refs,
		Path:      "set/" + network + "/" + contract,
	}}
}

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
}

func TestAddNode(t *testing.T) {
	g := New()

	g.AddNode(tgt("n", "a"))
	assert.Len(t, g.nodes, 1)
	nodeA, ok := g.nodes[id("n", "a")]
	require.True(t, ok)
	assert.Equal(t, id("n", "a"), nodeA.id)
	assert.NotNil(t, nodeA.deps)
	assert.NotNil(t, nodeA.dependents)

	g.AddNode(tgt("n", "a")) // Test idempotency
	assert.Len(t, g.nodes, 1)

	g.AddNode(tgt("n", "b"))
	assert.Len(t, g.nodes, 2)
	assert.Equal(t, []target.Identity{id("n", "a"), id("n", "b")}, g.Nodes())
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		g.AddNode(tgt("n", "a"))
		g.AddNode(tgt("n", "b"))

		err := g.AddEdge(id("n", "a"), id("n", "b"), Link) // b waits for a
		require.NoError(t, err)

		deps, err := g.Dependencies(id("n", "b"))
		require.NoError(t, err)
		assert.Equal(t, []target.Identity{id("n", "a")}, deps)

		dependents, err := g.Dependents(id("n", "a"))
		require.NoError(t, err)
		assert.Equal(t, []target.Identity{id("n", "b")}, dependents)

		kind, ok := g.EdgeKind(id("n", "a"), id("n", "b"))
		require.True(t, ok)
		assert.Equal(t, Link, kind)

		require.NoError(t, g.AddEdge(id("n", "a"), id("n", "b"), DependsOn))
		deps, _ = g.Dependencies(id("n", "b"))
		assert.Len(t, deps, 1, "duplicate edges are collapsed")
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		g.AddNode(tgt("n", "a"))

		err := g.AddEdge(id("n", "dne"), id("n", "a"), DependsOn)
		assert.ErrorContains(t, err, "source node not found")

		err = g.AddEdge(id("n", "a"), id("n", "dne"), DependsOn)
		assert.ErrorContains(t, err, "destination node not found")

		_, err = g.Dependencies(id("n", "dne"))
		assert.ErrorContains(t, err, "node not found")
	})
}

func TestBuild_ResolvesReferences(t *testing.T) {
	l1Token := tgt("l1", "Token", "Registry", "l2:Bridge")
	l1Token.Links = []target.Reference{"Math"}
	targets := []*target.Target{
		l1Token,
		tgt("l1", "Registry"),
		tgt("l1", "Math"),
		tgt("l2", "Bridge"),
	}

	g, err := Build(context.Background(), targets)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())

	token, ok := g.Target(id("l1", "Token"))
	require.True(t, ok)
	assert.Equal(t, []target.Identity{id("l1", "Registry"), id("l2", "Bridge")}, token.Dependencies)
	assert.Equal(t, []target.Identity{id("l1", "Math")}, token.LinkIDs)
	assert.Nil(t, l1Token.Dependencies, "input targets are not mutated")

	kind, ok := g.EdgeKind(id("l1", "Math"), id("l1", "Token"))
	require.True(t, ok)
	assert.Equal(t, Link, kind)
}

func TestBuild_NoCrossNetworkFallback(t *testing.T) {
	targets := []*target.Target{
		tgt("l1", "Token", "Registry"),
		tgt("l2", "Registry"),
	}

	_, err := Build(context.Background(), targets)
	var unresolved *UnresolvedDependencyError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, id("l1", "Token"), unresolved.From)
	assert.Equal(t, target.Reference("Registry"), unresolved.Ref)
	assert.Equal(t, "dependsOn", unresolved.Field)
	assert.Equal(t, []target.Identity{id("l2", "Registry")}, unresolved.Elsewhere)
	assert.ErrorContains(t, err, "l2:Registry")
}

func TestBuild_UnresolvedLink(t *testing.T) {
	tok := tgt("l1", "Token")
	tok.Links = []target.Reference{"l3:Math"}

	_, err := Build(context.Background(), []*target.Target{tok})
	var unresolved *UnresolvedDependencyError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "links", unresolved.Field)
	assert.Empty(t, unresolved.Elsewhere)
}

func TestCheckDuplicates(t *testing.T) {
	specs := []target.Spec{
		{Identity: id("l1", "Token"), Path: "core/l1/0"},
		{Identity: id("l2", "Token"), Path: "core/l2/0"},
		{Identity: id("l1", "Token"), Path: "extra/l1/3", Source: "extra.yaml"},
	}

	err := CheckDuplicates(specs)
	var dup *DuplicateTargetError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, id("l1", "Token"), dup.Identity)
	assert.Equal(t, "core/l1/0", dup.First)
	assert.Equal(t, "extra/l1/3 (extra.yaml)", dup.Second)

	_, err = Build(context.Background(), []*target.Target{tgt("l1", "A"), tgt("l1", "A")})
	assert.ErrorAs(t, err, &dup)
}

func TestCheck(t *testing.T) {
	build := func(t *testing.T, targets ...*target.Target) *Graph {
		t.Helper()
		g, err := Build(context.Background(), targets)
		require.NoError(t, err)
		return g
	}

	t.Run("empty graph has no cycles", func(t *testing.T) {
		order, err := Check(New())
		assert.NoError(t, err)
		assert.Empty(t, order)
	})

	t.Run("valid dag is ordered dependencies first", func(t *testing.T) {
		g := build(t,
			tgt("n", "d", "c"),
			tgt("n", "c", "b", "a"), // Transitive edge
			tgt("n", "b", "a"),
			tgt("n", "a"),
		)
		order, err := g.Check()
		require.NoError(t, err)
		assert.Equal(t, []target.Identity{id("n", "a"), id("n", "b"), id("n", "c"), id("n", "d")}, order)
	})

	t.Run("two node cycle names both identities", func(t *testing.T) {
		g := build(t, tgt("n", "A", "B"), tgt("n", "B", "A"))
		_, err := g.Check()
		var cyc *CyclicDependencyError
		require.ErrorAs(t, err, &cyc)
		assert.ElementsMatch(t, []target.Identity{id("n", "A"), id("n", "B")}, cyc.Cycle)
		assert.ErrorContains(t, err, "n:A -> n:B -> n:A")
	})

	t.Run("self reference is a cycle of one", func(t *testing.T) {
		g := build(t, tgt("n", "A", "A"))
		_, err := g.Check()
		var cyc *CyclicDependencyError
		require.ErrorAs(t, err, &cyc)
		assert.Equal(t, []target.Identity{id("n", "A")}, cyc.Cycle)
	})

	t.Run("reported cycle is minimal", func(t *testing.T) {
		// a -> b -> c -> d -> a plus the shortcut b -> a.
		g := build(t,
			tgt("n", "a", "b"),
			tgt("n", "b", "c", "a"),
			tgt("n", "c", "d"),
			tgt("n", "d", "a"),
		)
		_, err := g.Check()
		var cyc *CyclicDependencyError
		require.ErrorAs(t, err, &cyc)
		assert.Len(t, cyc.Cycle, 2)
		assert.ElementsMatch(t, []target.Identity{id("n", "a"), id("n", "b")}, cyc.Cycle)
	})

	t.Run("cycle in a disjoint component is detected", func(t *testing.T) {
		g := build(t,
			tgt("n", "a"),
			tgt("n", "b", "a"),
			tgt("n", "x"),
			tgt("n", "y", "x", "z"),
			tgt("n", "z", "y"),
		)
		_, err := g.Check()
		var cyc *CyclicDependencyError
		require.ErrorAs(t, err, &cyc)
		assert.ElementsMatch(t, []target.Identity{id("n", "y"), id("n", "z")}, cyc.Cycle)
	})
}

func TestCheck_OrderIsLinearization(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		const size = 30
		targets := make([]*target.Target, size)
		for i := 0; i < size; i++ {
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(5) == 0 {
					deps = append(deps, fmt.Sprintf("c%d", j))
				}
			}
			targets[i] = tgt("net", fmt.Sprintf("c%d", i), deps...)
		}
		rng.Shuffle(len(targets), func(i, j int) { targets[i], targets[j] = targets[j], targets[i] })

		g, err := Build(context.Background(), targets)
		require.NoError(t, err)
		order, err := g.Check()
		require.NoError(t, err)
		require.Len(t, order, size)

		pos := make(map[target.Identity]int, size)
		for i, ident := range order {
			pos[ident] = i
		}
		for _, tg := range g.Targets() {
			for _, dep := range tg.Upstream() {
				assert.Less(t, pos[dep], pos[tg.ID()], "%s must come after %s", tg.ID(), dep)
			}
		}
	}
}
