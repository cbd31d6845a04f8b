package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudkiln/kiln/internal/resource"
)

func res(id string, deps ...string) *resource.Resource {
	return &resource.Resource{
		ID:        id,
		Kind:      resource.KindNetwork,
		Spec:      &resource.NetworkSpec{CIDR: "10.0.0.0/16", Zone: "eu-central"},
		DependsOn: deps,
	}
}

func TestBuildOrderRespectsDependencies(t *testing.T) {
	g, err := Build([]*resource.Resource{
		res("nodegroup", "cluster"),
		res("cluster", "subnet"),
		res("subnet", "network"),
		res("network"),
	})
	require.NoError(t, err)

	order := g.Order()
	assert.Equal(t, []string{"network", "subnet", "cluster", "nodegroup"}, order)
}

func TestBuildOrderIsDeterministic(t *testing.T) {
	// Two independent chains: ties must break lexicographically every time.
	build := func() []string {
		g, err := Build([]*resource.Resource{
			res("b-subnet", "b-network"),
			res("a-subnet", "a-network"),
			res("b-network"),
			res("a-network"),
		})
		require.NoError(t, err)
		return g.Order()
	}

	first := build()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, build())
	}

	// Every resource appears after all of its dependencies.
	pos := map[string]int{}
	for i, id := range first {
		pos[id] = i
	}
	assert.Less(t, pos["a-network"], pos["a-subnet"])
	assert.Less(t, pos["b-network"], pos["b-subnet"])
}

func TestReverseOrderIsExactReverse(t *testing.T) {
	g, err := Build([]*resource.Resource{
		res("c", "b"),
		res("b", "a"),
		res("a"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, g.Order())
	assert.Equal(t, []string{"c", "b", "a"}, g.ReverseOrder())
}

func TestBuildDetectsCycle(t *testing.T) {
	_, err := Build([]*resource.Resource{
		res("a", "c"),
		res("b", "a"),
		res("c", "b"),
	})
	require.Error(t, err)

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr), "expected *CycleError, got %v", err)
	assert.GreaterOrEqual(t, len(cycleErr.Members), 3)
	assert.Contains(t, cycleErr.Error(), "dependency cycle")
}

func TestBuildRejectsUndeclaredDependency(t *testing.T) {
	_, err := Build([]*resource.Resource{res("subnet", "network")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared resource")
}

func TestBuildRejectsDuplicateIDs(t *testing.T) {
	_, err := Build([]*resource.Resource{res("a"), res("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate resource id")
}

func TestDependentsTransitive(t *testing.T) {
	g, err := Build([]*resource.Resource{
		res("network"),
		res("subnet", "network"),
		res("cluster", "subnet"),
		res("nodegroup", "cluster"),
		res("other"),
	})
	require.NoError(t, err)

	deps := g.Dependents("subnet")
	assert.Equal(t, []string{"cluster", "nodegroup"}, deps)

	assert.Empty(t, g.Dependents("nodegroup"))
	assert.Empty(t, g.Dependents("other"))
}
