// Package keypair generates signing keys for the SignedJWT auth scheme.
package keypair

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// ECDSAKeyPair holds the PEM-encoded private key and public key.
type ECDSAKeyPair struct {
	PrivateKeyPEM []byte // PKCS#8
	PublicKeyPEM  []byte // PKIX
}

// GenerateECDSA creates a new key pair on curve, P-256 when curve is nil.
func GenerateECDSA(curve elliptic.Curve) (*ECDSAKeyPair, error) {
	if curve == nil {
		curve = elliptic.P256()
	}
	privateKey, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key pair: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	return &ECDSAKeyPair{
		PrivateKeyPEM: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
		PublicKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
	}, nil
}

// WriteFiles stores the pair as <prefix>.pem (private, owner-only) and <prefix>.pub.pem.
func (p *ECDSAKeyPair) WriteFiles(prefix string) (privatePath, publicPath string, err error) {
	privatePath, publicPath = prefix+".pem", prefix+".pub.pem"
	if err := os.WriteFile(privatePath, p.PrivateKeyPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, p.PublicKeyPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write public key: %w", err)
	}
	return privatePath, publicPath, nil
}
