package snapshot

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	dtcose "github.com/datatrails/go-datatrails-common/cose"
	"github.com/veraison/go-cose"
)

var (
	ErrSignature = errors.New("snapshot: manifest signature invalid")
	ErrUnsealed  = errors.New("snapshot: manifest is not sealed")
)

// seal signs the encoded manifest. The signature message carries the manifest
// as its payload, the subject of the confirmation claim is the tree id.
func seal(o Options, subject string, manifest []byte) ([]byte, error) {
	headers := cose.Headers{
		Protected: cose.ProtectedHeader{},
	}
	if o.PublicKey != nil {
		headers.Protected[dtcose.HeaderLabelCWTClaims] = dtcose.NewCNFClaim(
			o.Issuer, subject, o.KeyID, o.Signer.Algorithm(), *o.PublicKey)
	}

	msg := cose.Sign1Message{
		Headers: headers,
		Payload: manifest,
	}
	if err := msg.Sign(rand.Reader, nil, o.Signer); err != nil {
		return nil, err
	}
	return msg.MarshalCBOR()
}

// unseal verifies sealed against the configured verifier, or against the key
// embedded in its own claims, and checks it covers manifest.
func unseal(o Options, sealed, manifest []byte) error {
	var payload []byte
	switch {
	case o.Verifier != nil:
		var msg cose.Sign1Message
		if err := msg.UnmarshalCBOR(sealed); err != nil {
			return fmt.Errorf("%w: %w", ErrSignature, err)
		}
		if err := msg.Verify(nil, o.Verifier); err != nil {
			return fmt.Errorf("%w: %w", ErrSignature, err)
		}
		payload = msg.Payload
	case o.VerifyEmbeddedKey:
		signed, err := dtcose.NewCoseSign1MessageFromCBOR(
			sealed, dtcose.WithDecOptions(dtcbor.NewDeterministicDecOpts()))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSignature, err)
		}
		if err := signed.VerifyWithProvider(dtcose.NewCWTPublicKeyProvider(signed), nil); err != nil {
			return fmt.Errorf("%w: %w", ErrSignature, err)
		}
		payload = signed.Payload
	default:
		return nil
	}
	if !bytes.Equal(payload, manifest) {
		return fmt.Errorf("%w: signed payload differs from the manifest", ErrSignature)
	}
	return nil
}

func (o Options) verifying() bool {
	return o.Verifier != nil || o.VerifyEmbeddedKey
}
