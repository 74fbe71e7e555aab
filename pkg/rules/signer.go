package rules

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/sign"
)

// KeyPair is a nacl/sign keypair used to countersign community/local rule
// bundles before distribution. The registry's own signature field (see
// computeSignature) is a content hash, independent of this keypair — this
// layer exists for bundles that want publisher-level non-repudiation on
// top of it.
type KeyPair struct {
	Public  *[32]byte
	Private *[64]byte
}

// GenerateKeyPair produces a new nacl/sign keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := sign.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("rules: keypair generation failed: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// SignBundle signs the raw bytes of a registry document, returning a hex
// encoded signed message that embeds the original payload.
func SignBundle(kp *KeyPair, raw []byte) string {
	signed := sign.Sign(nil, raw, kp.Private)
	return hex.EncodeToString(signed)
}

// OpenBundle verifies and recovers the raw document bytes from a signed
// bundle produced by SignBundle. Returns an error if the signature does
// not verify against pub.
func OpenBundle(pub *[32]byte, signedHex string) ([]byte, error) {
	signed, err := hex.DecodeString(signedHex)
	if err != nil {
		return nil, fmt.Errorf("rules: bundle is not valid hex: %w", err)
	}
	raw, ok := sign.Open(nil, signed, pub)
	if !ok {
		return nil, fmt.Errorf("rules: bundle signature verification failed")
	}
	return raw, nil
}

// LoadSignedBundle verifies a publisher-signed bundle with OpenBundle and
// then loads it as a registry document via LoadFrom, so a community bundle
// must pass both the publisher signature and each trusted entry's content
// signature.
func LoadSignedBundle(pub *[32]byte, signedHex string) (*Registry, error) {
	raw, err := OpenBundle(pub, signedHex)
	if err != nil {
		return nil, err
	}
	return LoadFrom(raw)
}
