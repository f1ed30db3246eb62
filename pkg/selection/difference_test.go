package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDifference(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want []string
	}{
		{name: "basic", a: []string{"u1", "u2", "u3"}, b: []string{"u2"}, want: []string{"u1", "u3"}},
		{name: "empty b", a: []string{"u1", "u2"}, b: nil, want: []string{"u1", "u2"}},
		{name: "empty a", a: nil, b: []string{"u1"}, want: []string{}},
		{name: "b superset", a: []string{"u1"}, b: []string{"u1", "u9"}, want: []string{}},
		{name: "keeps order of a", a: []string{"c", "a", "b"}, b: []string{"x"}, want: []string{"c", "a", "b"}},
		{name: "collapses duplicates", a: []string{"u1", "u1", "u2"}, b: []string{"u2"}, want: []string{"u1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Difference(tt.a, tt.b))
		})
	}
}

func TestDifference_DoesNotMutateInputs(t *testing.T) {
	a := []string{"u1", "u2"}
	b := []string{"u2"}
	_ = Difference(a, b)
	assert.Equal(t, []string{"u1", "u2"}, a)
	assert.Equal(t, []string{"u2"}, b)
}
