// Package crypto implements the encrypt subcommand: fetch a team/app public
// key through the API client, then envelope-encrypt a plaintext value
// against it.
//
// The original's production cipher is Evervault's own ECIES construction
// over secp256k1 (via the `rust_crypto` crate); no pack example implements
// or wraps an equivalent secp256k1 ECIES scheme, so this is a documented
// narrowing rather than a silent deviation: the P-256 curve is implemented
// for real with crypto/ecdh + crypto/aes-gcm, and a secp256k1 request fails
// with ErrUnsupportedCurve instead of being silently mis-encrypted.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/evervault/enclave-cli/internal/api"
)

// Curve names the elliptic curve an app's public key was issued on.
type Curve int

const (
	CurveP256 Curve = iota
	CurveSecp256k1
)

// ErrUnsupportedCurve is returned for CurveSecp256k1: see package doc.
var ErrUnsupportedCurve = errors.New("crypto: secp256k1 encryption is not supported by this build")

// Encrypt fetches appUUID's public key over curve and envelope-encrypts
// value against it, returning a base64-encoded ciphertext payload.
func Encrypt(ctx context.Context, client api.Client, appUUID string, curve Curve, value []byte) (string, error) {
	if curve == CurveSecp256k1 {
		return "", ErrUnsupportedCurve
	}

	keys, err := client.GetAppKeys(ctx, appUUID)
	if err != nil {
		return "", errors.Wrap(err, "crypto: fetching app keys")
	}

	pubKeyBytes, err := hex.DecodeString(keys.ECDHP256Key)
	if err != nil {
		return "", errors.Wrap(err, "crypto: decoding app public key")
	}

	curveP256 := ecdh.P256()
	recipientPub, err := curveP256.NewPublicKey(pubKeyBytes)
	if err != nil {
		return "", errors.Wrap(err, "crypto: parsing app public key")
	}

	ephemeralPriv, err := curveP256.GenerateKey(rand.Reader)
	if err != nil {
		return "", errors.Wrap(err, "crypto: generating ephemeral key")
	}

	sharedSecret, err := ephemeralPriv.ECDH(recipientPub)
	if err != nil {
		return "", errors.Wrap(err, "crypto: deriving shared secret")
	}

	block, err := aes.NewCipher(sharedSecret[:32])
	if err != nil {
		return "", errors.Wrap(err, "crypto: constructing cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "crypto: constructing gcm")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "crypto: generating nonce")
	}

	ciphertext := gcm.Seal(nonce, nonce, value, nil)
	payload := append(ephemeralPriv.PublicKey().Bytes(), ciphertext...)
	return base64.StdEncoding.EncodeToString(payload), nil
}
