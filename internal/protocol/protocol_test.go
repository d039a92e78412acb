package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MarshalsToWireShape(t *testing.T) {
	err := NewError(KindBadArgument, "unknown bookmark path: /tmp")

	encoded, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)

	var out map[string]string
	require.NoError(t, json.Unmarshal(encoded, &out))
	assert.Equal(t, "bad_argument", out["error"])
	assert.Equal(t, "unknown bookmark path: /tmp", out["message"])
}

func TestError_ImplementsErrorInterface(t *testing.T) {
	var err error = NewError(KindTimeout, "handler deadline exceeded")
	assert.Contains(t, err.Error(), "timeout")
}

func TestSearchRequest_UnmarshalsNullExtensionAsNil(t *testing.T) {
	raw := `{"bookmark_path":"/home/user","mode":"files","query":"main","extension":null}`
	var req SearchRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	assert.Nil(t, req.Extension)
	assert.Equal(t, "files", req.Mode)
}

func TestSearchRequest_UnmarshalsSetExtension(t *testing.T) {
	raw := `{"bookmark_path":"/home/user","mode":"all","query":"x","extension":"go"}`
	var req SearchRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	require.NotNil(t, req.Extension)
	assert.Equal(t, "go", *req.Extension)
}
