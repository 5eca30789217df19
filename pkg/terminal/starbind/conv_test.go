package starbind

import (
	"testing"

	"go.starlark.net/starlark"
)

func TestConv(t *testing.T) {
	script := `
# A list global that we'll unmarshal into a slice.
x = [1,2]
`
	globals, err := starlark.ExecFile(&starlark.Thread{}, "test.star", script, nil)
	starlarkVal, ok := globals["x"]
	if !ok {
		t.Fatal("missing global 'x'")
	}
	if err != nil {
		t.Fatal(err)
	}
	var x []int
	err = unmarshalStarlarkValue(starlarkVal, &x, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(x) != 2 || x[0] != 1 || x[1] != 2 {
		t.Fatalf("expected [1 2], got: %v", x)
	}
}

func TestConvStruct(t *testing.T) {
	type fixture struct {
		Name  string
		Value uint64
	}
	env := &Env{}
	v := env.interfaceToStarlarkValue(fixture{Name: "x", Value: 42})
	hs, ok := v.(starlark.HasAttrs)
	if !ok {
		t.Fatalf("expected a starlark object with attributes, got %T", v)
	}
	name, err := hs.Attr("Name")
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := name.(starlark.String); !ok || string(s) != "x" {
		t.Errorf("expected Name \"x\", got %v", name)
	}
	val, err := hs.Attr("Value")
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := val.(starlark.Int); !ok {
		t.Errorf("expected Value to be an int, got %T", val)
	} else if u, _ := n.Uint64(); u != 42 {
		t.Errorf("expected Value 42, got %v", n)
	}
	if _, err := hs.Attr("Bogus"); err == nil {
		t.Error("expected error for unknown attribute")
	}
}

func TestConvMap(t *testing.T) {
	env := &Env{}
	v := env.interfaceToStarlarkValue(map[string]uint64{"rbp": 6})
	d, ok := v.(*starlark.Dict)
	if !ok {
		t.Fatalf("expected a starlark dict, got %T", v)
	}
	val, found, err := d.Get(starlark.String("rbp"))
	if err != nil || !found {
		t.Fatalf("key rbp not found: %v", err)
	}
	if n, ok := val.(starlark.Int); !ok {
		t.Errorf("expected an int value, got %T", val)
	} else if u, _ := n.Uint64(); u != 6 {
		t.Errorf("expected 6, got %v", n)
	}
}
