package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyAllocatorDeterministic(t *testing.T) {
	alloc, err := NewProxyAllocator([]string{
		"gw1.example.com:4600:biz123:key-a",
		"gw2.example.com:4601:authkey-b:pwd-b",
	})
	require.NoError(t, err)
	require.Equal(t, 2, alloc.Size())

	// Same persona always maps to the same binding.
	first := alloc.BindingFor(7)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, alloc.BindingFor(7))
	}

	// Selection is persona id modulo template count.
	assert.Equal(t, "gw1.example.com", alloc.BindingFor(0).Host)
	assert.Equal(t, "gw2.example.com", alloc.BindingFor(1).Host)
	assert.Equal(t, "gw1.example.com", alloc.BindingFor(2).Host)
}

func TestProxyAllocatorBothCredentialFormats(t *testing.T) {
	alloc, err := NewProxyAllocator([]string{"host:1080:business_id:auth_key"})
	require.NoError(t, err)

	b := alloc.BindingFor(0)
	assert.Equal(t, "business_id", b.User)
	assert.Equal(t, "auth_key", b.Password)
	assert.Equal(t, "host:1080", b.Addr())
}

func TestProxyAllocatorNegativeIDStaysInRange(t *testing.T) {
	alloc, err := NewProxyAllocator([]string{"a:1", "b:2", "c:3"})
	require.NoError(t, err)

	b := alloc.BindingFor(-42)
	assert.Contains(t, []string{"a", "b", "c"}, b.Host)
	assert.Equal(t, b, alloc.BindingFor(-42))
}

func TestProxyAllocatorRejectsBadTemplates(t *testing.T) {
	_, err := NewProxyAllocator(nil)
	assert.Error(t, err)

	_, err = NewProxyAllocator([]string{"hostonly"})
	assert.Error(t, err)

	_, err = NewProxyAllocator([]string{"host:notaport:u:p"})
	assert.Error(t, err)
}
