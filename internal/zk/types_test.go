package zk

import (
	"encoding/json"
	"testing"

	xerrors "ZKRebalance-Chain/internal/errors"
)

func TestDecodeProofPackageRejectsUnknownFields(t *testing.T) {
	raw := []byte(`{"proof": {}, "public_inputs": [], "unexpected": true}`)
	_, err := DecodeProofPackage(raw)
	if err == nil {
		t.Fatal("unknown field accepted")
	}
	if xerrors.CodeOf(err) != CodeInvalidProofFormat {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
}

func TestDecodeProofPackageToleratesMissingFields(t *testing.T) {
	pkg, err := DecodeProofPackage([]byte(`{"proof": {"protocol": "groth16"}}`))
	if err != nil {
		t.Fatalf("missing fields must decode to zero values: %v", err)
	}
	if pkg.Proof.HasRequiredFields() {
		t.Fatal("proof with only protocol must not count as complete")
	}
	if pkg.Proof.Protocol != ProtocolGroth16 {
		t.Fatalf("unexpected protocol: %s", pkg.Proof.Protocol)
	}
}

func TestHasRequiredFields(t *testing.T) {
	complete := Proof{
		PiA:      []json.RawMessage{[]byte(`"1"`), []byte(`"2"`), []byte(`"1"`)},
		PiB:      []json.RawMessage{[]byte(`["1","2"]`), []byte(`["3","4"]`), []byte(`["1","0"]`)},
		PiC:      []json.RawMessage{[]byte(`"5"`), []byte(`"6"`), []byte(`"1"`)},
		Protocol: ProtocolGroth16,
		Curve:    CurveBN128,
	}
	if !complete.HasRequiredFields() {
		t.Fatal("complete proof reported incomplete")
	}

	missingCurve := complete
	missingCurve.Curve = ""
	if missingCurve.HasRequiredFields() {
		t.Fatal("missing curve reported complete")
	}

	missingPiB := complete
	missingPiB.PiB = nil
	if missingPiB.HasRequiredFields() {
		t.Fatal("missing pi_b reported complete")
	}
}

func TestPublicInputList(t *testing.T) {
	got, err := PublicInputList(json.RawMessage(`["375000", "375000", 42]`))
	if err != nil {
		t.Fatalf("PublicInputList: %v", err)
	}
	if len(got) != 3 || got[0] != "375000" || got[2] != "42" {
		t.Fatalf("unexpected inputs: %v", got)
	}

	if _, err := PublicInputList(json.RawMessage(`{"not": "a list"}`)); err == nil {
		t.Fatal("object accepted as public inputs")
	}
	if _, err := PublicInputList(nil); err == nil {
		t.Fatal("empty raw accepted as public inputs")
	}
}
