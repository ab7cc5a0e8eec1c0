package interfaces

// CredentialCipher encrypts credentials at rest. Decrypt returns an error for
// blobs produced under a different key or tampered with.
type CredentialCipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(blob string) ([]byte, error)
}
