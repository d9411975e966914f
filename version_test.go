package claimsend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iov-one/claimsend"
)

func TestVersion(t *testing.T) {
	claimsend.GitCommit = ""
	assert.Equal(t, "v0.1.0-dev", claimsend.Version())

	claimsend.GitCommit = "12345678"
	assert.Equal(t, "v0.1.0-dev 12345678", claimsend.Version())
	claimsend.GitCommit = ""
}
