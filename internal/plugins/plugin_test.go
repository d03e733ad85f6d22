package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvoss/dynaflow/pkg/schema"
)

type fakePlugin struct{ name string }

func (p *fakePlugin) Name() string                        { return p.name }
func (p *fakePlugin) Description() string                 { return "fake" }
func (p *fakePlugin) AvailableActions() map[string]string { return map[string]string{"do": "does"} }
func (p *fakePlugin) Execute(context.Context, string, map[string]any, schema.RunMode) map[string]any {
	return map[string]any{"status": "success"}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakePlugin{name: "one"}))

	p, err := r.Get("one")
	require.NoError(t, err)
	assert.Equal(t, "one", p.Name())
	assert.True(t, r.Has("one"))
	assert.False(t, r.Has("two"))
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakePlugin{name: "dup"}))

	err := r.Register(&fakePlugin{name: "dup"})
	require.Error(t, err)

	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeConflict, ferr.Code)
}

func TestRegistry_GetMissing(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("ghost")
	require.Error(t, err)

	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeNotFound, ferr.Code)
}

func TestRegistry_RejectsNilAndUnnamed(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&fakePlugin{name: ""}))
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakePlugin{name: "zeta"}))
	require.NoError(t, r.Register(&fakePlugin{name: "alpha"}))

	infos := r.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "zeta", infos[1].Name)
	assert.Equal(t, map[string]string{"do": "does"}, infos[0].Actions)
}
