package keygen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestGenerate(t *testing.T) {
	kp, err := Generate(2048)
	require.NoError(t, err)

	signer, err := ssh.ParsePrivateKey(kp.PrivateKey)
	require.NoError(t, err)

	pub, _, _, _, err := ssh.ParseAuthorizedKey(kp.AuthorizedKey)
	require.NoError(t, err)
	assert.Equal(t, "ssh-rsa", pub.Type())
	assert.Equal(t, signer.PublicKey().Marshal(), pub.Marshal())
}
