package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/c360studio/veriflow/verify"
)

const svdSource = `"""Singular value decomposition."""

import numpy as np

MAX_ITER = 100

def _householder(a):
    return a

@profile
def svd(a, tol=1e-12):
    """Compute the SVD of a."""
    return _householder(a)

class SVDResult:
    pass
`

func implUnit(id, entrypoint string) *verify.Unit {
	return &verify.Unit{
		ID:          id,
		Equivalence: verify.EquivalenceNumerical,
		Entrypoint:  entrypoint,
	}
}

func implBundle(name, source string) verify.Bundle {
	return verify.Bundle{
		{Kind: verify.ArtifactImplementation, Name: name, Data: []byte(source)},
	}
}

func TestInspector_Symbols(t *testing.T) {
	symbols, err := NewInspector().Symbols(context.Background(), []byte(svdSource))
	if err != nil {
		t.Fatalf("Symbols failed: %v", err)
	}

	want := map[string]bool{"MAX_ITER": true, "_householder": true, "svd": true, "SVDResult": true}
	if len(symbols) != len(want) {
		t.Fatalf("expected %d symbols, got %v", len(want), symbols)
	}
	for _, s := range symbols {
		if !want[s] {
			t.Errorf("unexpected symbol %q", s)
		}
	}
}

func TestInspector_EntrypointPresent(t *testing.T) {
	ins := NewInspector()
	err := ins.Check(context.Background(), implUnit("svd", "svd"), implBundle("svd.py", svdSource))
	if err != nil {
		t.Errorf("expected pass, got %v", err)
	}
}

func TestInspector_WrongFileRejected(t *testing.T) {
	ins := NewInspector()
	err := ins.Check(context.Background(), implUnit("mps", "mps_contract"), implBundle("svd.py", svdSource))
	if err == nil {
		t.Fatal("expected rejection for missing entrypoint")
	}

	var symErr *SymbolError
	if !errors.As(err, &symErr) {
		t.Fatalf("expected SymbolError, got %v", err)
	}
	if symErr.Entrypoint != "mps_contract" {
		t.Errorf("expected entrypoint in error, got %s", symErr.Entrypoint)
	}
	if !errors.Is(err, verify.ErrIncompleteArtifactBundle) {
		t.Error("symbol errors must unwrap to ErrIncompleteArtifactBundle")
	}
}

func TestInspector_EmptyFileRejected(t *testing.T) {
	ins := NewInspector()
	err := ins.Check(context.Background(), implUnit("svd", "svd"), implBundle("svd.py", ""))
	if err == nil {
		t.Fatal("expected rejection for empty artifact")
	}
}

func TestInspector_NoEntrypointSkipsCheck(t *testing.T) {
	ins := NewInspector()
	err := ins.Check(context.Background(), implUnit("svd", ""), implBundle("svd.py", ""))
	if err != nil {
		t.Errorf("units without entrypoints skip inspection, got %v", err)
	}
}

func TestInspector_ReportOnlyBundleSkipsCheck(t *testing.T) {
	bundle := verify.Bundle{
		{Kind: verify.ArtifactReviewRecord, Data: []byte(`{}`)},
	}
	err := NewInspector().Check(context.Background(), implUnit("svd", "svd"), bundle)
	if err != nil {
		t.Errorf("bundles without implementation artifacts pass trivially, got %v", err)
	}
}
