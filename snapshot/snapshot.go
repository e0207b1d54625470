// Package snapshot persists a tree by copying its region image to an object
// store. Each commit is a new generation made of three objects: the snappy
// compressed image, a CBOR manifest describing it, and optionally a COSE Sign1
// seal over the manifest. A small head object names the latest generation.
//
//	<prefix><tree id>/<generation>.region
//	<prefix><tree id>/<generation>.manifest
//	<prefix><tree id>/<generation>.sig
//	<prefix><tree id>/head
//
// Generation objects are written create-only and never change once written,
// so a reader holding a manifest can always fetch the matching image.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/forestrie/go-stablebtree/btree"
	"github.com/forestrie/go-stablebtree/region"
	"github.com/golang/snappy"
	"github.com/google/uuid"
)

const (
	ManifestVersion = 1

	regionExt   = ".region"
	manifestExt = ".manifest"
	sealExt     = ".sig"
	headName    = "head"
)

var (
	ErrChecksum = errors.New("snapshot: region image checksum mismatch")
	ErrVersion  = errors.New("snapshot: unsupported manifest version")
	ErrNotImage = errors.New("snapshot: tree region can not be imaged")
	ErrTreeID   = errors.New("snapshot: manifest belongs to a different tree")
)

// Manifest describes one committed generation of a tree.
type Manifest struct {
	Version    int          `cbor:"1,keyasint"`
	TreeID     []byte       `cbor:"2,keyasint"`
	Generation uint64       `cbor:"3,keyasint"`
	Order      int          `cbor:"4,keyasint"`
	HasRoot    bool         `cbor:"5,keyasint"`
	Root       uint64       `cbor:"6,keyasint"`
	Len        uint64       `cbor:"7,keyasint"`
	Branches   int          `cbor:"8,keyasint"`
	Leaves     int          `cbor:"9,keyasint"`
	Region     region.State `cbor:"10,keyasint"`
	ImageBytes uint64       `cbor:"11,keyasint"`
	// Checksum is the sha256 of the uncompressed image.
	Checksum []byte `cbor:"12,keyasint"`
	// Timestamp is the commit time in unix milliseconds.
	Timestamp int64 `cbor:"13,keyasint"`
}

// Header returns the tree header recorded in the manifest.
func (m Manifest) Header() (btree.Header, error) {
	id, err := uuid.FromBytes(m.TreeID)
	if err != nil {
		return btree.Header{}, err
	}
	return btree.Header{
		ID:       id,
		Order:    m.Order,
		Root:     region.Address(m.Root),
		HasRoot:  m.HasRoot,
		Len:      m.Len,
		Branches: m.Branches,
		Leaves:   m.Leaves,
	}, nil
}

type head struct {
	Generation uint64 `cbor:"1,keyasint"`
}

// Image is a region that can produce a byte image of itself together with
// its allocator state. region.Memory is an Image.
type Image interface {
	Bytes() []byte
	State() region.State
}

func TreePath(prefix string, treeID uuid.UUID) string {
	return fmt.Sprintf("%s%s/", prefix, treeID)
}

func HeadPath(prefix string, treeID uuid.UUID) string {
	return TreePath(prefix, treeID) + headName
}

func generationPath(prefix string, treeID uuid.UUID, generation uint64, ext string) string {
	return fmt.Sprintf("%s%016d%s", TreePath(prefix, treeID), generation, ext)
}

func RegionPath(prefix string, treeID uuid.UUID, generation uint64) string {
	return generationPath(prefix, treeID, generation, regionExt)
}

func ManifestPath(prefix string, treeID uuid.UUID, generation uint64) string {
	return generationPath(prefix, treeID, generation, manifestExt)
}

func SealPath(prefix string, treeID uuid.UUID, generation uint64) string {
	return generationPath(prefix, treeID, generation, sealExt)
}

// Latest returns the most recently committed generation of the tree, or
// ErrNotFound if it has never been committed.
func Latest(ctx context.Context, store ObjectStore, treeID uuid.UUID, opts ...Option) (uint64, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return 0, err
	}
	return latest(ctx, o, store, treeID)
}

func latest(ctx context.Context, o Options, store ObjectStore, treeID uuid.UUID) (uint64, error) {
	data, err := store.Get(ctx, HeadPath(o.Prefix, treeID))
	if err != nil {
		return 0, err
	}
	var h head
	if err = o.CBORCodec.UnmarshalInto(data, &h); err != nil {
		return 0, err
	}
	return h.Generation, nil
}

// Commit writes the current state of tree as a new generation and advances
// the head to it. Concurrent commits of the same tree race on the create-only
// generation objects, the loser gets ErrExists.
func Commit(ctx context.Context, store ObjectStore, tree *btree.Tree, opts ...Option) (Manifest, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return Manifest{}, err
	}

	treeID := tree.ID()
	generation, err := latest(ctx, o, store, treeID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Manifest{}, err
	}
	generation++

	var m Manifest
	var compressed []byte
	err = tree.View(func(h btree.Header, r region.Region) error {
		img, ok := r.(Image)
		if !ok {
			return fmt.Errorf("%w: %T", ErrNotImage, r)
		}
		image := img.Bytes()
		sum := sha256.Sum256(image)
		m = Manifest{
			Version:    ManifestVersion,
			TreeID:     treeID[:],
			Generation: generation,
			Order:      h.Order,
			HasRoot:    h.HasRoot,
			Root:       uint64(h.Root),
			Len:        h.Len,
			Branches:   h.Branches,
			Leaves:     h.Leaves,
			Region:     img.State(),
			ImageBytes: uint64(len(image)),
			Checksum:   sum[:],
			Timestamp:  time.Now().UnixMilli(),
		}
		compressed = snappy.Encode(nil, image)
		return nil
	})
	if err != nil {
		return Manifest{}, err
	}

	manifest, err := o.CBORCodec.MarshalCBOR(m)
	if err != nil {
		return Manifest{}, err
	}

	if err = store.Put(ctx, RegionPath(o.Prefix, treeID, generation), compressed, true); err != nil {
		return Manifest{}, err
	}
	if o.Signer != nil {
		sealed, err := seal(o, treeID.String(), manifest)
		if err != nil {
			return Manifest{}, err
		}
		if err = store.Put(ctx, SealPath(o.Prefix, treeID, generation), sealed, true); err != nil {
			return Manifest{}, err
		}
	}
	// The manifest is written after the objects it refers to.
	if err = store.Put(ctx, ManifestPath(o.Prefix, treeID, generation), manifest, true); err != nil {
		return Manifest{}, err
	}

	data, err := o.CBORCodec.MarshalCBOR(head{Generation: generation})
	if err != nil {
		return Manifest{}, err
	}
	if err = store.Put(ctx, HeadPath(o.Prefix, treeID), data, false); err != nil {
		return Manifest{}, err
	}

	o.Log.Infof(
		"committed tree %s generation %d: %d entries, image %d bytes (%d compressed)",
		treeID, generation, m.Len, m.ImageBytes, len(compressed))
	return m, nil
}

// ReadManifest reads and, when a verifier is configured, verifies the
// manifest of a generation. A zero generation reads the latest.
func ReadManifest(ctx context.Context, store ObjectStore, treeID uuid.UUID, opts ...Option) (Manifest, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return Manifest{}, err
	}
	return readManifest(ctx, o, store, treeID)
}

func readManifest(ctx context.Context, o Options, store ObjectStore, treeID uuid.UUID) (Manifest, error) {
	generation := o.Generation
	if generation == 0 {
		var err error
		if generation, err = latest(ctx, o, store, treeID); err != nil {
			return Manifest{}, err
		}
	}

	data, err := store.Get(ctx, ManifestPath(o.Prefix, treeID, generation))
	if err != nil {
		return Manifest{}, err
	}
	if o.verifying() {
		sealed, err := store.Get(ctx, SealPath(o.Prefix, treeID, generation))
		if errors.Is(err, ErrNotFound) {
			return Manifest{}, fmt.Errorf("%w: generation %d", ErrUnsealed, generation)
		}
		if err != nil {
			return Manifest{}, err
		}
		if err = unseal(o, sealed, data); err != nil {
			return Manifest{}, err
		}
	}

	var m Manifest
	if err = o.CBORCodec.UnmarshalInto(data, &m); err != nil {
		return Manifest{}, err
	}
	if m.Version != ManifestVersion {
		return Manifest{}, fmt.Errorf("%w: %d", ErrVersion, m.Version)
	}
	if !bytes.Equal(m.TreeID, treeID[:]) || m.Generation != generation {
		return Manifest{}, fmt.Errorf("%w: manifest %x generation %d, want %s generation %d",
			ErrTreeID, m.TreeID, m.Generation, treeID, generation)
	}
	return m, nil
}

// Open restores a committed generation of a tree into a fresh region and
// resumes the tree over it. The options are handed on to btree.Resume.
func Open(ctx context.Context, store ObjectStore, treeID uuid.UUID, opts ...Option) (*btree.Tree, Manifest, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, Manifest{}, err
	}

	m, err := readManifest(ctx, o, store, treeID)
	if err != nil {
		return nil, Manifest{}, err
	}

	compressed, err := store.Get(ctx, RegionPath(o.Prefix, treeID, m.Generation))
	if err != nil {
		return nil, Manifest{}, err
	}
	n, err := snappy.DecodedLen(compressed)
	if err != nil {
		return nil, Manifest{}, fmt.Errorf("%w: %w", ErrChecksum, err)
	}
	if uint64(n) != m.ImageBytes {
		return nil, Manifest{}, fmt.Errorf("%w: image is %d bytes, manifest says %d", ErrChecksum, n, m.ImageBytes)
	}
	image, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, Manifest{}, fmt.Errorf("%w: %w", ErrChecksum, err)
	}
	sum := sha256.Sum256(image)
	if !bytes.Equal(sum[:], m.Checksum) {
		return nil, Manifest{}, fmt.Errorf("%w: generation %d", ErrChecksum, m.Generation)
	}

	r, err := region.Restore(image, m.Region)
	if err != nil {
		return nil, Manifest{}, err
	}
	h, err := m.Header()
	if err != nil {
		return nil, Manifest{}, err
	}
	tree, err := btree.Resume(r, h, opts...)
	if err != nil {
		return nil, Manifest{}, err
	}

	o.Log.Infof("opened tree %s generation %d: %d entries", treeID, m.Generation, m.Len)
	return tree, m, nil
}
