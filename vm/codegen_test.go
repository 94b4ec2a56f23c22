package vm

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/chazu/tiervm/pkg/bytecode"
)

func f64le(f float64) []byte {
	return binary.LittleEndian.AppendUint64(nil, math.Float64bits(f))
}

func u32le(n uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, n)
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func TestGenerateEncoding(t *testing.T) {
	tests := []struct {
		name  string
		build func(ir *IR)
		want  []byte
	}{
		{
			name:  "constant",
			build: func(ir *IR) { ir.Add(&ConstantNode{Value: 42}) },
			want:  concat([]byte{MarkConstant}, f64le(42)),
		},
		{
			name:  "funcref",
			build: func(ir *IR) { ir.Add(&FuncRefNode{Function: 5}) },
			want:  concat([]byte{MarkFuncRef}, u32le(5)),
		},
		{
			name: "arithmetic",
			build: func(ir *IR) {
				a := ir.Add(&ConstantNode{Value: 1})
				ir.Add(&BinaryNode{Op: IRAdd, Left: a, Right: a})
				ir.Add(&BinaryNode{Op: IRSub, Left: a, Right: a})
				ir.Add(&BinaryNode{Op: IRMul, Left: a, Right: a})
				ir.Add(&BinaryNode{Op: IRDiv, Left: a, Right: a})
			},
			want: concat([]byte{MarkConstant}, f64le(1), []byte{0x10, 0x11, 0x12, 0x13}),
		},
		{
			name: "locals and guard",
			build: func(ir *IR) {
				l := ir.Add(&LoadLocalNode{Index: 3})
				g := ir.Add(&TypeGuardNode{Value: l, Expected: GuardNumber})
				ir.Add(&StoreLocalNode{Index: 1, Value: g})
			},
			want: concat([]byte{MarkLoadLocal}, u32le(3), []byte{MarkTypeGuard, 0x01}, []byte{MarkStoreLocal}, u32le(1)),
		},
		{
			name: "call print return",
			build: func(ir *IR) {
				f := ir.Add(&FuncRefNode{Function: 2})
				c := ir.Add(&CallNode{Callee: f, Args: []NodeID{f, f}})
				p := ir.Add(&PrintNode{Value: c})
				ir.Add(&ReturnNode{Value: p})
			},
			want: concat([]byte{MarkFuncRef}, u32le(2), []byte{MarkCall}, u32le(2), []byte{MarkPrint, MarkReturn}),
		},
		{
			name: "unknown guard",
			build: func(ir *IR) {
				c := ir.Add(&ConstantNode{Value: 0})
				ir.Add(&TypeGuardNode{Value: c, Expected: GuardUnknown})
			},
			want: concat([]byte{MarkConstant}, f64le(0), []byte{MarkTypeGuard, 0x00}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ir := NewIR(0)
			tt.build(ir)
			cf, err := NewCodeGenerator(BackendMock).Generate(ir, nil)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if !bytes.Equal(cf.Code, tt.want) {
				t.Errorf("Code = % X, want % X", cf.Code, tt.want)
			}
			if cf.EntryPoint != 0 {
				t.Errorf("EntryPoint = %d, want 0", cf.EntryPoint)
			}
		})
	}
}

func TestGenerateDeterministic(t *testing.T) {
	build := func() *IR {
		ir, err := LowerToIR(1, addFunc())
		if err != nil {
			t.Fatalf("LowerToIR() error = %v", err)
		}
		return ir
	}
	gen := NewCodeGenerator(BackendMock)
	a, err := gen.Generate(build(), nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, err := gen.Generate(build(), nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !bytes.Equal(a.Code, b.Code) {
		t.Errorf("two generations differ:\n% X\n% X", a.Code, b.Code)
	}
	if a.BuildID == b.BuildID {
		t.Error("BuildID should be unique per generation")
	}
	if a.FunctionID != 1 {
		t.Errorf("FunctionID = %d, want 1", a.FunctionID)
	}
}

func TestGenerateNativeBackendFallsBack(t *testing.T) {
	for _, b := range []Backend{BackendAMD64, BackendARM64} {
		gen := NewCodeGenerator(b)
		ir := NewIR(0)
		ir.Add(&ConstantNode{Value: 1})
		cf, err := gen.Generate(ir, nil)
		if err != nil {
			t.Fatalf("%s: Generate() error = %v", b, err)
		}
		if cf.Backend != BackendMock {
			t.Errorf("%s: Backend = %s, want mock", b, cf.Backend)
		}
		if gen.Requested() != b {
			t.Errorf("Requested() = %s, want %s", gen.Requested(), b)
		}
	}
}

func TestGenerateUncheckedOps(t *testing.T) {
	c := bytecode.NewChunk()
	c.LocalCount = 1
	c.Emit(bytecode.OpLoadLocal, 0)
	c.Emit(bytecode.OpLoadLocal, 0)
	c.EmitOp(bytecode.OpMul)

	ir, report := optimize(t, c)
	cf, err := NewCodeGenerator(BackendMock).Generate(ir, report)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(cf.UncheckedOps) != 1 || cf.UncheckedOps[0] != 4 {
		t.Errorf("UncheckedOps = %v, want [4]", cf.UncheckedOps)
	}
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendMock, false},
		{"mock", BackendMock, false},
		{"AMD64", BackendAMD64, false},
		{"x86_64", BackendAMD64, false},
		{"aarch64", BackendARM64, false},
		{"cranelift", BackendMock, true},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackend(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBackend(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
