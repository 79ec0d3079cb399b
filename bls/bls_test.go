package bls

import (
	"bytes"
	"testing"
)

func mustKey(t *testing.T, seed byte) *SecretKey {
	t.Helper()
	ikm := bytes.Repeat([]byte{seed}, 32)
	sk, err := GenerateSecretKey(ikm)
	if err != nil {
		t.Fatalf("GenerateSecretKey: %v", err)
	}
	return sk
}

func TestSignAndVerify(t *testing.T) {
	sk := mustKey(t, 1)
	msg := []byte("pre-prepare digest")
	sig := sk.Sign(msg)

	if !Verify(sk.PublicKey(), msg, sig) {
		t.Fatalf("signature must verify against its own public key")
	}
	if Verify(sk.PublicKey(), []byte("different message"), sig) {
		t.Fatalf("signature must not verify against a different message")
	}
}

func TestAggregateSucceedsIffAllPartialsVerify(t *testing.T) {
	msg := []byte("commit digest")
	var sks []*SecretKey
	var pks []PublicKey
	var sigs []Signature
	for i := byte(1); i <= 5; i++ {
		sk := mustKey(t, i)
		sks = append(sks, sk)
		pks = append(pks, sk.PublicKey())
		sigs = append(sigs, sk.Sign(msg))
	}

	for i, sig := range sigs {
		if !Verify(pks[i], msg, sig) {
			t.Fatalf("partial %d must verify individually", i)
		}
	}

	aggSig, err := Aggregate(sigs)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	aggPK, err := AggregatePublicKeys(pks)
	if err != nil {
		t.Fatalf("AggregatePublicKeys: %v", err)
	}
	if !VerifyAggregate(aggPK, msg, aggSig) {
		t.Fatalf("aggregate signature must verify against the aggregate public key")
	}
}

func TestAggregateFailsWithCorruptPartial(t *testing.T) {
	msg := []byte("commit digest")
	sk1 := mustKey(t, 1)
	sk2 := mustKey(t, 2)
	sig1 := sk1.Sign(msg)
	sig2 := sk2.Sign([]byte("wrong message"))

	aggSig, err := Aggregate([]Signature{sig1, sig2})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	aggPK, err := AggregatePublicKeys([]PublicKey{sk1.PublicKey(), sk2.PublicKey()})
	if err != nil {
		t.Fatalf("AggregatePublicKeys: %v", err)
	}
	if VerifyAggregate(aggPK, msg, aggSig) {
		t.Fatalf("aggregate must not verify when one partial signed a different message")
	}
}

func TestKeyStoreAggregation(t *testing.T) {
	ks := NewKeyStore()
	msg := []byte("post-prepare digest")
	var sigs []Signature
	var bitmap [32]bool
	for id := uint8(0); id < 4; id++ {
		sk := mustKey(t, id+10)
		ks.OnPublicKey(id, sk.PublicKey())
		sigs = append(sigs, sk.Sign(msg))
		bitmap[id] = true
	}

	aggPK, err := ks.GetAggregatedPublicKey(bitmap)
	if err != nil {
		t.Fatalf("GetAggregatedPublicKey: %v", err)
	}
	aggSig, err := Aggregate(sigs)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !VerifyAggregate(aggPK, msg, aggSig) {
		t.Fatalf("aggregate must verify for the participation bitmap's selected keys")
	}
}

func TestKeyStoreMissingDelegate(t *testing.T) {
	ks := NewKeyStore()
	var bitmap [32]bool
	bitmap[5] = true
	if _, err := ks.GetAggregatedPublicKey(bitmap); err == nil {
		t.Fatalf("expected an error aggregating a bitmap that selects an unadvertised delegate")
	}
}
