package document

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJSONKeepsKinds(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	doc := Document{ID: "c1", Data: Map{
		"count":   Int(3),
		"ratio":   Float(2),
		"name":    String("2024-03-01T12:30:00Z"),
		"created": Time(when),
		"blob":    Bytes([]byte{0, 1, 2}),
		"tags":    List(String("a"), Null(), Bool(true)),
		"address": Object(Map{"city": String("Lisbon")}),
	}}

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var back Document
	require.NoError(t, json.Unmarshal(raw, &back))
	require.True(t, doc.Equal(back), "round trip changed document: %s", raw)

	kinds := map[string]Kind{"count": KindInt, "ratio": KindFloat, "name": KindString, "created": KindTime, "blob": KindBytes}
	for field, kind := range kinds {
		require.Equal(t, kind, back.Data[field].Kind(), field)
	}
}

func TestFromAnyNested(t *testing.T) {
	v, err := FromAny(map[string]any{
		"owner": map[string]any{"phone": 5511999999999},
		"items": []any{1, 2.5, "x"},
	})
	require.NoError(t, err)
	require.Equal(t, KindMap, v.Kind())

	phone, ok := v.Fields().Lookup([]string{"owner", "phone"})
	require.True(t, ok)
	require.Equal(t, "5511999999999", phone.Text())

	items := v.Fields()["items"].Items()
	require.Len(t, items, 3)
	require.Equal(t, KindFloat, items[1].Kind())

	_, err = FromAny(struct{}{})
	require.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	orig := MustMap(map[string]any{"nested": map[string]any{"a": 1}})
	cp := orig.Clone()
	cp["nested"].Fields()["a"] = Int(2)

	a, _ := orig.Lookup([]string{"nested", "a"})
	got, _ := a.IntValue()
	if got != 1 {
		t.Fatalf("clone shares nested map, original now %d", got)
	}
}

func TestIntAndFloatNotEqual(t *testing.T) {
	if Int(1).Equal(Float(1)) {
		t.Fatalf("int and float must not compare equal")
	}
	if !List(Int(1)).Equal(List(Int(1))) {
		t.Fatalf("identical lists must compare equal")
	}
}
