package cryptox

import (
	"encoding/json"
	"errors"

	"github.com/kinloop/kinloop/internal/common"
	"golang.org/x/crypto/argon2"
)

// keystoreVersion identifies the current keystore layout. Bump on any change
// to the KDF parameters or envelope fields.
const keystoreVersion = 1

// ErrKeystoreFormat is returned when the input is not a keystore envelope.
var ErrKeystoreFormat = errors.New("unrecognized keystore format")

// Keystore is a passphrase-encrypted envelope around 32 bytes of secret-key
// material, used for identity export and disaster-recovery import.
type Keystore struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// DeriveKey stretches a passphrase into a 32-byte AES key using argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// SealKeystore encrypts secret under a passphrase-derived key and returns the
// JSON-encoded envelope.
func SealKeystore(secret, passphrase []byte) ([]byte, error) {
	salt := common.GenerateRandByteArray(16)
	key := DeriveKey(passphrase, salt)
	defer common.WipeByteArray(key)

	ciphertext, nonce, err := EncryptBytes(secret, key)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Keystore{
		Version:    keystoreVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	})
}

// OpenKeystore decodes a keystore envelope and decrypts the secret with the
// given passphrase. Returns ErrKeystoreFormat if data is not an envelope.
func OpenKeystore(data, passphrase []byte) ([]byte, error) {
	var ks Keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, ErrKeystoreFormat
	}
	if ks.Version != keystoreVersion || len(ks.Salt) == 0 || len(ks.Nonce) == 0 {
		return nil, ErrKeystoreFormat
	}

	key := DeriveKey(passphrase, ks.Salt)
	defer common.WipeByteArray(key)

	return DecryptBytes(ks.Ciphertext, ks.Nonce, key)
}
