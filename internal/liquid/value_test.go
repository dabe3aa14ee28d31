package liquid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueUnmarshalJSONPreservesOrderAndNumbers(t *testing.T) {
	t.Parallel()

	var v Value
	err := json.Unmarshal([]byte(`{"z": 1.50, "a": [true, null, "x"], "m": {"k": 12345678901234567890}}`), &v)
	require.NoError(t, err)

	require.Equal(t, KindObject, v.Kind())
	assert.Equal(t, []string{"z", "a", "m"}, v.Object().Keys())
	assert.Equal(t, "1.50", v.Field("z").String())
	assert.Equal(t, "12345678901234567890", v.Field("m").Field("k").String())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"z":1.50,"a":[true,null,"x"],"m":{"k":12345678901234567890}}`, string(out))
	assert.Equal(t, `{"z":1.50,"a":[true,null,"x"],"m":{"k":12345678901234567890}}`, string(out))
}

func TestValueTruthiness(t *testing.T) {
	t.Parallel()

	assert.False(t, Nil().Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.True(t, String("").Truthy(), "empty strings are truthy in Liquid")
	assert.True(t, Int(0).Truthy())
	assert.True(t, Array().Truthy())
}

func TestValueEmptyAndBlank(t *testing.T) {
	t.Parallel()

	assert.True(t, String("").IsEmpty())
	assert.True(t, Array().IsEmpty())
	assert.True(t, ObjectValue(nil).IsEmpty())
	assert.False(t, Nil().IsEmpty())

	assert.True(t, Nil().IsBlank())
	assert.True(t, String("  \n").IsBlank())
	assert.True(t, Bool(false).IsBlank())
	assert.False(t, String("x").IsBlank())
}

func TestValueFieldSpecials(t *testing.T) {
	t.Parallel()

	arr := Array(String("a"), String("b"), String("c"))
	assert.Equal(t, "3", arr.Field("size").String())
	assert.Equal(t, "a", arr.Field("first").String())
	assert.Equal(t, "c", arr.Field("last").String())
	assert.Equal(t, "c", arr.Index(-1).String())
	assert.True(t, arr.Index(10).IsNil())
	assert.Equal(t, "5", String("héllo").Field("size").String())

	obj := NewObject()
	obj.Set("size", String("large"))
	assert.Equal(t, "large", ObjectValue(obj).Field("size").String(), "real fields win over specials")
}

func TestValueEqualAndCompare(t *testing.T) {
	t.Parallel()

	assert.True(t, Int(2).Equal(Number(2.0)))
	assert.False(t, Int(2).Equal(String("2")))
	assert.True(t, Array(Int(1), String("x")).Equal(Array(Int(1), String("x"))))

	cmp, ok := String("a").Compare(String("b"))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)

	_, ok = String("a").Compare(Int(1))
	assert.False(t, ok)
}

func TestFromGo(t *testing.T) {
	t.Parallel()

	v := FromGo(map[string]any{
		"name":  "Ada",
		"age":   36,
		"langs": []any{"en", "fr"},
	})
	assert.Equal(t, []string{"age", "langs", "name"}, v.Object().Keys())
	assert.Equal(t, "36", v.Field("age").String())
	assert.Equal(t, "fr", v.Field("langs").Index(1).String())
	assert.Equal(t, "enfr", v.Field("langs").String())
}
