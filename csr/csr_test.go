package csr

import (
	"errors"
	"testing"

	"github.com/pickyca/picky-ca/certificate"
	"github.com/pickyca/picky-ca/internal/testutil"
	"github.com/pickyca/picky-ca/keys"
	"github.com/pickyca/picky-ca/pkierrors"
	"github.com/pickyca/picky-ca/signature"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	key, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")

	name := certificate.Name{CommonName: "csr.example.com"}
	request, err := Generate(name, key, signature.RsaSha256)
	testutil.AssertNotError(t, err, "Generate failed")

	testutil.AssertNotError(t, request.Verify(), "Verify failed on freshly generated CSR")

	gotName, gotPub := request.IntoSubjectInfos()
	testutil.AssertEquals(t, gotName.CommonName, "csr.example.com")
	if gotPub.N.Cmp(key.N) != 0 {
		t.Fatal("subject public key did not match the signing key")
	}
}

func TestDERRoundTrip(t *testing.T) {
	key, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	request, err := Generate(certificate.Name{CommonName: "roundtrip.example.com"}, key, signature.RsaSha384)
	testutil.AssertNotError(t, err, "Generate failed")

	der, err := request.ToDER()
	testutil.AssertNotError(t, err, "ToDER failed")

	back, err := FromDER(der)
	testutil.AssertNotError(t, err, "FromDER failed")
	testutil.AssertEquals(t, back.Subject.CommonName, "roundtrip.example.com")
	testutil.AssertEquals(t, back.SignatureAlgorithm, signature.RsaSha384)
	testutil.AssertNotError(t, back.Verify(), "Verify failed after DER round trip")
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	key, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	request, err := Generate(certificate.Name{CommonName: "original.example.com"}, key, signature.RsaSha256)
	testutil.AssertNotError(t, err, "Generate failed")

	request.Signature[len(request.Signature)-1] ^= 0xff
	err = request.Verify()
	if !errors.Is(err, pkierrors.BadSignature) {
		t.Fatalf("expected pkierrors.BadSignature, got %v", err)
	}
}
