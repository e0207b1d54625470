package snapshot

import (
	"crypto/ecdsa"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-stablebtree/btree"
	"github.com/veraison/go-cose"
)

type Options struct {
	// Prefix is prepended to every object path.
	Prefix string

	// Generation selects the snapshot Open reads. Zero means the latest.
	Generation uint64

	Signer    cose.Signer
	KeyID     string
	PublicKey *ecdsa.PublicKey
	Issuer    string

	Verifier cose.Verifier
	// VerifyEmbeddedKey verifies the manifest signature with the public key
	// carried in its own CWT claims. It proves integrity only.
	VerifyEmbeddedKey bool

	CBORCodec *dtcbor.CBORCodec
	Log       logger.Logger
}

// Option is shared with package btree, so one list of options can configure
// both the snapshot and the tree opened from it.
type Option = btree.Option

func WithPrefix(prefix string) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Prefix = prefix
		}
	}
}

func WithGeneration(generation uint64) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Generation = generation
		}
	}
}

// WithSigner seals every committed manifest with a COSE Sign1 signature.
// When publicKey is provided it is bound into the protected header as a CWT
// confirmation claim.
func WithSigner(signer cose.Signer, keyID string, publicKey *ecdsa.PublicKey) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Signer = signer
			o.KeyID = keyID
			o.PublicKey = publicKey
		}
	}
}

func WithIssuer(issuer string) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Issuer = issuer
		}
	}
}

func WithVerifier(verifier cose.Verifier) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Verifier = verifier
		}
	}
}

func WithEmbeddedKeyVerification() Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.VerifyEmbeddedKey = true
		}
	}
}

func WithCBORCodec(codec *dtcbor.CBORCodec) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.CBORCodec = codec
		}
	}
}

// WithLogger sets the logger of the snapshot operations and of any tree they
// open.
func WithLogger(log logger.Logger) Option {
	return func(opts any) {
		switch o := opts.(type) {
		case *Options:
			o.Log = log
		case *btree.Options:
			o.Log = log
		}
	}
}

func NewManifestCodec() (dtcbor.CBORCodec, error) {
	codec, err := dtcbor.NewCBORCodec(
		dtcbor.NewDeterministicEncOpts(),
		dtcbor.NewDeterministicDecOpts(), // unsigned int decodes to uint64
	)
	if err != nil {
		return dtcbor.CBORCodec{}, err
	}
	return codec, nil
}

func newOptions(opts ...Option) (Options, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.CBORCodec == nil {
		codec, err := NewManifestCodec()
		if err != nil {
			return Options{}, err
		}
		o.CBORCodec = &codec
	}
	if o.Log == nil {
		o.Log = logger.Sugar.WithServiceName("snapshot")
	}
	return o, nil
}
