package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{ID: "a", FunctionName: "do_a"}))

	assert.Error(t, r.Register(&Descriptor{ID: "a", FunctionName: "do_a2"}))
	assert.Error(t, r.Register(&Descriptor{ID: "a2", FunctionName: "do_a"}))
	assert.Error(t, r.Register(&Descriptor{ID: "", FunctionName: "x"}))
}

func TestDefaultRegistryLookup(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{"test", "flashcard", "course_search"}, r.IDs())

	d := r.GetByFunction("generate_test")
	require.NotNil(t, d)
	assert.Equal(t, "test", d.ID)

	assert.Nil(t, r.Get("unknown"))
	assert.Nil(t, r.GetByFunction("foo"))
}

// Every declared function round-trips back to its descriptor.
func TestFunctionDeclarationsRoundTrip(t *testing.T) {
	r := DefaultRegistry()

	decls := r.FunctionDeclarations()
	require.Len(t, decls, 3)

	for _, decl := range decls {
		d := r.GetByFunction(decl.Name)
		require.NotNil(t, d, "declaration %q has no descriptor", decl.Name)
		assert.Equal(t, d.FunctionName, decl.Name)
		assert.Equal(t, d.Description, decl.Description)
	}
}

func TestCourseSearchSchema(t *testing.T) {
	r := DefaultRegistry()
	d := r.Get("course_search")
	require.NotNil(t, d)
	require.NotNil(t, d.Parameters)

	assert.Equal(t, "object", d.Parameters.Type)
	assert.Contains(t, d.Parameters.Properties, "school")
	assert.Contains(t, d.Parameters.Properties, "department")
	// Neither parameter is required: the decoder must never default them.
	assert.Empty(t, d.Parameters.Required)
}

func TestMentionPreconditions(t *testing.T) {
	r := DefaultRegistry()

	for _, id := range []string{"test", "flashcard"} {
		d := r.Get(id)
		require.NotNil(t, d)
		require.NotNil(t, d.Validate)

		err := d.Validate(nil, Context{MentionCount: 0})
		assert.ErrorIs(t, err, ErrMentionsRequired, "capability %s", id)

		assert.NoError(t, d.Validate(nil, Context{MentionCount: 1}), "capability %s", id)
	}

	// course_search has no precondition.
	assert.Nil(t, r.Get("course_search").Validate)
}
