package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"time"

	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
)

// certValidity is the lifetime of the self-signed node certificate.
const certValidity = 365 * 24 * time.Hour

// selfCertificate creates a self-signed certificate carrying the node's
// ed25519 key. Peers identify each other by that key, not by a CA chain.
func selfCertificate(key ed25519.PrivateKey) (tls.Certificate, error) {
	pub := key.Public().(ed25519.PublicKey)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, errs.Wrap(err, "certificate serial")
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "vaultnet-" + hex.EncodeToString(pub[:8])},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, key)
	if err != nil {
		return tls.Certificate{}, errs.Wrap(err, "create certificate")
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}

// peerIdentity returns the identity presented in a peer's TLS certificate.
func peerIdentity(state tls.ConnectionState) (data.Identity, error) {
	if len(state.PeerCertificates) == 0 {
		return data.Identity{}, errs.New(errs.ErrInvalidArgument, "no peer certificate")
	}

	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return data.Identity{}, errs.New(errs.ErrInvalidArgument, "peer certificate does not carry an ed25519 key")
	}

	return data.IdentityFrom(pub)
}

// identityOf returns the identity of an ed25519 key.
func identityOf(key ed25519.PrivateKey) data.Identity {
	var id data.Identity
	copy(id[:], key.Public().(ed25519.PublicKey))

	return id
}
