package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Selective field encryption: AES-128-CBC with PKCS7 padding, keyed per
// message from a SHA-256 digest of the secret, sender address and message
// id, so sender and receiver derive identical key material independently.

var (
	ErrFieldAbsent  = errors.New("envelope: field to encrypt is absent")
	ErrNotSecure    = errors.New("envelope: message has no .secure payload")
	ErrNoFields     = errors.New("envelope: no fields given to encrypt")
	ErrBadPadding   = errors.New("envelope: invalid PKCS7 padding")
	ErrShortCipher  = errors.New("envelope: ciphertext shorter than one block")
	ErrCipherNotMul = errors.New("envelope: ciphertext not a multiple of the block size")
)

// deriveKey computes the AES-128 key for a message: the first 16 bytes of
// SHA-256(secret || fromAddress || messageId).
func deriveKey(secret []byte, fromAddress, messageID string) []byte {
	var buf bytes.Buffer
	buf.Write(secret)
	buf.WriteString(fromAddress)
	buf.WriteString(messageID)
	h := sha256.Sum256(buf.Bytes())
	key := make([]byte, 16)
	copy(key, h[:16])
	return key
}

// deriveIV computes the CBC initialization vector: the XOR of the first
// and second 16-byte halves of SHA-256(fromAddress || messageId).
func deriveIV(fromAddress, messageID string) []byte {
	var buf bytes.Buffer
	buf.WriteString(fromAddress)
	buf.WriteString(messageID)
	h := sha256.Sum256(buf.Bytes())
	iv := make([]byte, 16)
	for i := 0; i < 16; i++ {
		iv[i] = h[i] ^ h[i+16]
	}
	return iv
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, ErrBadPadding
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > n || padLen > aes.BlockSize {
		return nil, ErrBadPadding
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, ErrBadPadding
		}
	}
	return data[:n-padLen], nil
}

func aesEncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func aesDecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < aes.BlockSize {
		return nil, ErrShortCipher
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrCipherNotMul
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

// Encrypt removes each named (dotted-path) field from the body, collects
// them into a shape-preserving temporary object, and stores its
// AES-128-CBC-PKCS7 ciphertext, base64-encoded, at the reserved .secure
// path. Fails if any named field is absent.
func (m *Message) Encrypt(secret []byte, fields ...string) error {
	if len(fields) == 0 {
		return ErrNoFields
	}
	temp := make(map[string]interface{})
	for _, f := range fields {
		v, ok := m.GetDotted(f)
		if !ok {
			return fmt.Errorf("%w: %s", ErrFieldAbsent, f)
		}
		putDotted(temp, strings.Split(f, "."), v)
	}
	if err := m.encryptSecure(secret, temp); err != nil {
		return err
	}
	for _, f := range fields {
		m.RemoveDotted(f)
	}
	return nil
}

// Decrypt reverses Encrypt: it decrypts .secure and merges the recovered
// key/value pairs back into the body, then clears .secure.
func (m *Message) Decrypt(secret []byte) error {
	temp, err := m.decryptSecure(secret)
	if err != nil {
		return err
	}
	if m.Body == nil {
		m.Body = make(map[string]interface{})
	}
	mergeInto(m.Body, temp)
	m.Env.Secure = ""
	return nil
}

// ReEncrypt decrypts the .secure payload under fromSecret and re-encrypts
// it under toSecret without ever merging plaintext fields back into the
// body, so the caller (the central router) never observes the recovered
// values.
func (m *Message) ReEncrypt(fromSecret, toSecret []byte) error {
	temp, err := m.decryptSecure(fromSecret)
	if err != nil {
		return err
	}
	return m.encryptSecure(toSecret, temp)
}

func (m *Message) encryptSecure(secret []byte, temp map[string]interface{}) error {
	plaintext, err := json.Marshal(temp)
	if err != nil {
		return err
	}
	key := deriveKey(secret, m.Env.From, m.Env.ID)
	iv := deriveIV(m.Env.From, m.Env.ID)
	ciphertext, err := aesEncryptCBC(key, iv, plaintext)
	if err != nil {
		return err
	}
	m.Env.Secure = base64.StdEncoding.EncodeToString(ciphertext)
	return nil
}

func (m *Message) decryptSecure(secret []byte) (map[string]interface{}, error) {
	if m.Env.Secure == "" {
		return nil, ErrNotSecure
	}
	ciphertext, err := base64.StdEncoding.DecodeString(m.Env.Secure)
	if err != nil {
		return nil, err
	}
	key := deriveKey(secret, m.Env.From, m.Env.ID)
	iv := deriveIV(m.Env.From, m.Env.ID)
	plaintext, err := aesDecryptCBC(key, iv, ciphertext)
	if err != nil {
		return nil, err
	}
	temp := make(map[string]interface{})
	if err := json.Unmarshal(plaintext, &temp); err != nil {
		return nil, err
	}
	return temp, nil
}

func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		if srcChild, ok := v.(map[string]interface{}); ok {
			dstChild, ok := dst[k].(map[string]interface{})
			if !ok {
				dstChild = make(map[string]interface{})
				dst[k] = dstChild
			}
			mergeInto(dstChild, srcChild)
			continue
		}
		dst[k] = v
	}
}

// Authenticator computes base64(SHA-256(secret || poName || messageId)),
// sent on manage.connect/manage.reconnect and verified by the CPO.
func Authenticator(secret []byte, poName, messageID string) string {
	var buf bytes.Buffer
	buf.Write(secret)
	buf.WriteString(poName)
	buf.WriteString(messageID)
	h := sha256.Sum256(buf.Bytes())
	return base64.StdEncoding.EncodeToString(h[:])
}

// VerifyAuthenticator recomputes and compares the authenticator. A direct
// comparison is used rather than a constant-time one, since the
// authenticator is not a secret itself (it is derived and single-use per
// connect message).
func VerifyAuthenticator(secret []byte, poName, messageID, got string) bool {
	return Authenticator(secret, poName, messageID) == got
}

// RandomSecret returns n fresh random bytes for use as a raw client
// secret; the CPO's manage.add uses it when no secret is supplied.
func RandomSecret(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}
