package interner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysankpia/nervusdb/pkg/storage/ids"
)

func TestInternIsIdempotent(t *testing.T) {
	in := New[ids.LabelID](0, 255)
	a, err := in.Intern("Person")
	require.NoError(t, err)
	b, err := in.Intern("Person")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := in.Intern("Movie")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestInternRejectsOversizedName(t *testing.T) {
	in := New[ids.LabelID](0, 8)
	_, err := in.Intern(strings.Repeat("x", 9))
	require.Error(t, err)
}

func TestInternRejectsEmptyName(t *testing.T) {
	in := New[ids.LabelID](0, 255)
	_, err := in.Intern("")
	require.Error(t, err)
}

func TestNameLookup(t *testing.T) {
	in := New[ids.RelTypeID](0, 255)
	id, err := in.Intern("KNOWS")
	require.NoError(t, err)
	name, ok := in.Name(id)
	require.True(t, ok)
	assert.Equal(t, "KNOWS", name)
}

func TestSerializeRoundtrip(t *testing.T) {
	in := New[ids.LabelID](0, 255)
	in.Intern("Person")
	in.Intern("Movie")
	in.Intern("Genre")

	data := in.Serialize()
	in2, err := Deserialize[ids.LabelID](data, 255)
	require.NoError(t, err)
	assert.Equal(t, in.Next(), in2.Next())
	assert.Equal(t, in.Len(), in2.Len())

	id, _ := in.Lookup("Movie")
	id2, ok := in2.Lookup("Movie")
	require.True(t, ok)
	assert.Equal(t, id, id2)
}
