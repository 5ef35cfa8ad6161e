package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringList_Value(t *testing.T) {
	v, err := StringList{"SIGNER", "COMPLIANCE"}.Value()
	require.NoError(t, err)
	assert.Equal(t, "{SIGNER,COMPLIANCE}", v)

	v, err = StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	v, err = StringList{"fund admin", `a"b`}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"fund admin","a\"b"}`, v)
}

func TestStringList_Scan(t *testing.T) {
	var l StringList
	require.NoError(t, l.Scan("{SIGNER,COMPLIANCE}"))
	assert.Equal(t, StringList{"SIGNER", "COMPLIANCE"}, l)

	require.NoError(t, l.Scan([]byte(`{"fund admin","a\"b"}`)))
	assert.Equal(t, StringList{"fund admin", `a"b`}, l)

	require.NoError(t, l.Scan("{}"))
	assert.Nil(t, l)

	require.NoError(t, l.Scan(nil))
	assert.Nil(t, l)

	assert.Error(t, l.Scan(`["SIGNER"]`))
}
