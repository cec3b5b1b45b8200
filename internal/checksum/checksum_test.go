package checksum

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docseed/internal/bundle"
)

const helloDigest = "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestSum_KnownVectors(t *testing.T) {
	assert.Equal(t, helloDigest, Sum([]byte("hello")))
	assert.Equal(t, "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sum(nil))
}

func TestCompute_MatchesSum(t *testing.T) {
	d, err := Compute(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, helloDigest, d.Value)
	assert.Equal(t, int64(5), d.Size)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestCompute_ReaderError(t *testing.T) {
	_, err := Compute(failingReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestParse(t *testing.T) {
	algo, hexDigest, err := Parse(helloDigest)
	require.NoError(t, err)
	assert.Equal(t, "sha256", algo)
	assert.Len(t, hexDigest, 64)

	for _, bad := range []string{"", "sha256", "sha256:", "md5:abcd", "sha256:zz", "sha256:abcd"} {
		_, _, err := Parse(bad)
		assert.Error(t, err, "Parse(%q)", bad)
	}
}

func TestVerify(t *testing.T) {
	require.NoError(t, Verify([]byte("hello"), helloDigest))

	err := Verify([]byte("hullo"), helloDigest)
	require.Error(t, err)
	assert.True(t, bundle.IsChecksumMismatch(err))

	err = Verify([]byte("hello"), "nonsense")
	assert.True(t, bundle.IsValidation(err))
}

func TestComputeAll(t *testing.T) {
	artifacts := map[bundle.ArtifactKind]bundle.Artifact{
		bundle.KindConfig:  {Filename: "c.json", Data: []byte(`{"name":"n","outFileName":"o"}`)},
		bundle.KindPrimary: {Filename: "q.sql", Data: []byte("hello")},
	}

	sums, sizes, err := ComputeAll(context.Background(), artifacts)
	require.NoError(t, err)

	assert.Equal(t, []bundle.ArtifactKind{bundle.KindConfig, bundle.KindPrimary}, sums.Kinds())
	got, _ := sums.Get(bundle.KindPrimary)
	assert.Equal(t, helloDigest, got)
	size, _ := sizes.Get(bundle.KindPrimary)
	assert.Equal(t, int64(5), size)
	assert.False(t, sums.Has(bundle.KindTemplate))
}

func TestComputeAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ComputeAll(ctx, map[bundle.ArtifactKind]bundle.Artifact{
		bundle.KindPrimary: {Data: []byte("x")},
	})
	assert.ErrorIs(t, err, context.Canceled)
}
