package pipeline

import (
	"context"
	"errors"
	"testing"
)

func TestUnary(t *testing.T) {
	ctx := context.Background()
	fn := Unary(func(ctx context.Context, s string) (int64, error) { return int64(len(s)), nil })

	out, err := fn(ctx, "four")
	if err != nil {
		t.Fatalf("Unary: err = %v", err)
	}
	if out != int64(4) {
		t.Errorf("Unary: got %v", out)
	}
	if _, err := fn(ctx, 4); err == nil {
		t.Error("Unary: expected error for wrong argument type")
	}
	if _, err := fn(ctx, "a", "b"); err == nil {
		t.Error("Unary: expected error for two arguments")
	}
}

func TestConstantAndFail(t *testing.T) {
	ctx := context.Background()
	out, err := Constant("fixed")(ctx, 1, 2)
	if err != nil || out != "fixed" {
		t.Errorf("Constant: got %v, %v", out, err)
	}
	errBoom := errors.New("boom")
	if _, err := Fail(errBoom)(ctx); !errors.Is(err, errBoom) {
		t.Errorf("Fail: got %v", err)
	}
}

func TestTap(t *testing.T) {
	ctx := context.Background()
	var seenCtx context.Context
	var seenArgs []any
	fn := Tap(func(c context.Context, args []any) {
		seenCtx = c
		seenArgs = args
	})

	out, err := fn(ctx, "tapped", 2)
	if err != nil {
		t.Fatalf("Tap: err = %v", err)
	}
	if seenCtx != ctx || len(seenArgs) != 2 || seenArgs[0] != "tapped" {
		t.Errorf("Tap: fn called with ctx=%v args=%v", seenCtx, seenArgs)
	}
	if out != "tapped" {
		t.Errorf("Tap: want output %v, got %v", "tapped", out)
	}
	if out, _ := fn(ctx); out != nil {
		t.Errorf("Tap without args: got %v", out)
	}
}

func TestTap_InPipeline(t *testing.T) {
	var logged []any
	p := mustLoad(t, `try { fail("x") } inspect e { log(e.message) } catch e { 1 }`)
	env := &Env{Funcs: Funcs{"log": Tap(func(_ context.Context, args []any) { logged = append(logged, args...) })}}
	out, err := p.Run(context.Background(), env, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != int64(1) || len(logged) != 1 || logged[0] != "x" {
		t.Errorf("got %v, logged %v", out, logged)
	}
}
