package gasp

import "testing"

// FuzzDecode36 exercises the outpoint wire-codec against malformed input,
// mirroring the robustness checks the upstream ancestor-sync code ran against
// raw transaction hex parsing.
func FuzzDecode36(f *testing.F) {
	f.Add("")
	f.Add("00")
	f.Add("deadbeef")
	f.Add("zz")
	f.Add("0100000001000000000000000000000000000000000000000000000000000000000000000000000000")
	f.Add("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b8500000007")

	f.Fuzz(func(t *testing.T, s string) {
		txid, index, err := Decode36(s)
		if err != nil {
			return
		}
		roundTripped := Encode36(txid, index)
		txid2, index2, err := Decode36(roundTripped)
		if err != nil {
			t.Fatalf("Decode36(Encode36(...)) failed: %v", err)
		}
		if txid2 != txid || index2 != index {
			t.Fatalf("round-trip mismatch: got (%v,%d), want (%v,%d)", txid2, index2, txid, index)
		}
	})
}
