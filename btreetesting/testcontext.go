package btreetesting

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/go-faker/faker/v4"
	"github.com/stretchr/testify/require"
)

type TestContext struct {
	Log    logger.Logger
	Storer *azblob.Storer
	T      *testing.T
	Rand   *rand.Rand
}

const (
	KeyFmt = "key-%08d"
)

type TestConfig struct {
	// Seed fixes the order of generated corpora so that a failure can be
	// reproduced. Zero is a valid seed.
	Seed            int64
	TestLabelPrefix string
	Container       string // can be "" defaults to TestLabelPrefix
}

func NewTestContext(t *testing.T, cfg TestConfig) TestContext {
	c := TestContext{
		T:    t,
		Rand: rand.New(rand.NewSource(cfg.Seed)),
	}
	logger.New("NOOP")
	t.Cleanup(logger.OnExit)
	c.Log = logger.Sugar.WithServiceName(cfg.TestLabelPrefix)
	return c
}

// NewBlobTestContext also connects to the blob store emulator configured in
// the environment. Only integration tests use it.
func NewBlobTestContext(t *testing.T, cfg TestConfig) TestContext {
	c := NewTestContext(t, cfg)

	container := cfg.Container
	if container == "" {
		container = cfg.TestLabelPrefix
	}

	var err error
	c.Storer, err = azblob.NewDev(azblob.NewDevConfigFromEnv(), container)
	if err != nil {
		t.Fatalf("failed to connect to blob store emulator: %v", err)
	}
	client := c.Storer.GetServiceClient()
	// Note: we expect a 'already exists' error here and ignore it.
	_, _ = client.CreateContainer(context.Background(), container, nil)

	return c
}

func (c *TestContext) DeleteBlobsByPrefix(blobPrefixPath string) {
	var err error
	var r *azblob.ListerResponse
	var blobs []string

	var marker azblob.ListMarker
	for {
		r, err = c.Storer.List(
			context.Background(),
			azblob.WithListPrefix(blobPrefixPath), azblob.WithListMarker(marker))

		require.NoError(c.T, err)

		for _, i := range r.Items {
			blobs = append(blobs, *i.Name)
		}
		if len(r.Items) == 0 || r.Marker == nil {
			break
		}
		marker = r.Marker
	}
	for _, blobPath := range blobs {
		err = c.Storer.Delete(context.Background(), blobPath)
		require.NoError(c.T, err)
	}
}

// SequentialKeys returns n keys whose byte order is their generation order.
func (c *TestContext) SequentialKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf(KeyFmt, i))
	}
	return keys
}

// ShuffledKeys returns the SequentialKeys in a seeded random order.
func (c *TestContext) ShuffledKeys(n int) [][]byte {
	keys := c.SequentialKeys(n)
	c.Rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	return keys
}

// WordKeys returns n distinct keys made of generated words, in no
// particular order.
func (c *TestContext) WordKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("%s-%s-%d", faker.Word(), faker.Word(), i))
	}
	return keys
}

// Value returns a generated value for key. Values vary in length so that
// blocks of different size classes are exercised.
func (c *TestContext) Value(key []byte) []byte {
	return []byte(fmt.Sprintf("%s:%s", key, faker.Sentence()))
}
