package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONIndent(t *testing.T) {
	c := JSON{Indent: "  "}

	data, err := c.Marshal(map[string]int{"a": 1})
	require.NoError(t, err)
	require.Equal(t, "{\n  \"a\": 1\n}", string(data))

	var buf bytes.Buffer
	require.NoError(t, c.NewEncoder(&buf).Encode([]int{1}))
	require.Equal(t, "[\n  1\n]\n", buf.String())
}

func TestJSONDecoder(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	require.NoError(t, JSON{}.NewDecoder(bytes.NewBufferString(`{"name":"x"}`)).Decode(&dst))
	require.Equal(t, "x", dst.Name)
}
