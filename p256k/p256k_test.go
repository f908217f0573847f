package p256k

import (
	"bytes"
	"testing"

	"lukechampine.com/frand"

	"zapsplit.lol/sha256"
)

func TestSignVerify(t *testing.T) {
	var s Signer
	if err := s.Generate(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		msg := sha256.Hash(frand.Bytes(64))
		sig, err := s.Sign(msg)
		if err != nil {
			t.Fatal(err)
		}
		var v Signer
		if err = v.InitPub(s.Pub()); err != nil {
			t.Fatal(err)
		}
		var valid bool
		if valid, err = v.Verify(msg, sig); err != nil || !valid {
			t.Fatalf("signature did not verify: %v", err)
		}
		msg[0]++
		if valid, _ = v.Verify(msg, sig); valid {
			t.Fatal("tampered message verified")
		}
	}
}

func TestInitSecDerivesSamePub(t *testing.T) {
	var a, b Signer
	if err := a.Generate(); err != nil {
		t.Fatal(err)
	}
	if err := b.InitSec(a.Sec()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Pub(), b.Pub()) || !bytes.Equal(a.Sec(), b.Sec()) {
		t.Fatal("key pair mismatch")
	}
	if err := b.InitSec(make([]byte, 31)); err == nil {
		t.Fatal("expected length error")
	}
	if err := b.InitSec(make([]byte, 32)); err == nil {
		t.Fatal("expected zero key error")
	}
}

func TestECDHSymmetric(t *testing.T) {
	var a, b Signer
	if err := a.Generate(); err != nil {
		t.Fatal(err)
	}
	if err := b.Generate(); err != nil {
		t.Fatal(err)
	}
	s1, err := a.ECDH(b.Pub())
	if err != nil {
		t.Fatal(err)
	}
	s2, err := b.ECDH(a.Pub())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(s1, s2) || len(s1) != 32 {
		t.Fatalf("shared secrets differ\n%x\n%x", s1, s2)
	}
}
