package ledger

import "testing"

func TestAcceptLoanCallArgumentOrder(t *testing.T) {
	call := NewAcceptLoanCall(DefaultContract, 3, "bc1qexample", 750_000)
	if call.Function != "accept-loan" {
		t.Fatalf("function = %s", call.Function)
	}
	if len(call.Args) != 3 {
		t.Fatalf("args = %d, want 3", len(call.Args))
	}
	if id, err := call.Args[0].AsUint64(); err != nil || id != 3 {
		t.Fatalf("arg 0 = %d, err=%v", id, err)
	}
	if addr, err := call.Args[1].AsStringASCII(); err != nil || addr != "bc1qexample" {
		t.Fatalf("arg 1 = %q, err=%v", addr, err)
	}
	if sats, err := call.Args[2].AsUint64(); err != nil || sats != 750_000 {
		t.Fatalf("arg 2 = %d, err=%v", sats, err)
	}
}

func TestBuildersTargetConfiguredContract(t *testing.T) {
	ct := Contract{Address: "ST3OTHER", Name: "poh-v2"}
	for _, call := range []UnsignedCall{
		NewCreateLoanCall(ct, 1_000_000),
		NewAcceptLoanCall(ct, 0, "bc1q", 1),
		NewLiquidateCall(ct, 0),
		NewSetPriceCall(ct, 31_000),
	} {
		if call.Contract != ct {
			t.Fatalf("%s targets %s, want %s", call.Function, call.Contract, ct)
		}
	}
}

func TestDigestDistinguishesCalls(t *testing.T) {
	a := NewCreateLoanCall(DefaultContract, 1_000_000)
	b := NewCreateLoanCall(DefaultContract, 1_000_001)
	if a.Digest() == b.Digest() {
		t.Fatalf("digests collide for different amounts")
	}
	if a.Digest() != NewCreateLoanCall(DefaultContract, 1_000_000).Digest() {
		t.Fatalf("digest not deterministic")
	}
}
