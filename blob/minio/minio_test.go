package minio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/claims-engine/blob"
)

func TestObjectName_ShardsByDigestPrefix(t *testing.T) {
	ref := blob.RefOf([]byte("manifest"))
	digest, err := ref.Digest()
	assert.NoError(t, err)

	name := objectName(digest)
	assert.Equal(t, digest[:2]+"/"+digest, name)
	assert.Len(t, name, 2+1+64)
}
