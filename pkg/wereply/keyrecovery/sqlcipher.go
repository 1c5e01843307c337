// Package keyrecovery recovers the encryption key of the chat client's
// local databases and reads chats and messages out of them.
//
// The databases are SQLCipher files. Instead of shipping a custom SQLite
// build, the package decrypts a database file page by page with the
// standard crypto primitives and then opens the plaintext copy with the
// regular sqlite3 driver.
//
// Key recovery runs a strategy chain: an in-memory cached key, the key
// persisted in the OS keyring, live process instrumentation, and finally
// an entropy scan over the client's key-info store. The first key that
// decrypts the session database wins and is persisted for the next run.
package keyrecovery

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// plainHeader is the first 16 bytes of an unencrypted SQLite file. An
	// encrypted file carries the KDF salt there instead.
	plainHeader = "SQLite format 3\x00"

	saltSize = 16
	ivSize   = 16

	// RawKeySize is the key length that bypasses the KDF: a 32-byte key
	// is the cipher key itself, anything else is a passphrase.
	RawKeySize = 32
)

// ErrKeyRejected reports that no cipher profile accepted the key.
var ErrKeyRejected = errors.New("key does not decrypt the database")

// Profile is one SQLCipher parameter set. Client builds moved between
// SQLCipher major versions and custom KDF iteration counts, so every
// profile is tried in order until one authenticates page 1.
type Profile struct {
	Name     string
	KDFIter  int
	PageSize int
	// Reserve is the per-page trailer: IV, HMAC and block padding.
	Reserve int

	hashNew func() hash.Hash
}

// Profiles lists the known parameter sets, most common first.
var Profiles = []Profile{
	{Name: "v4", KDFIter: 256000, PageSize: 4096, Reserve: 80, hashNew: sha512.New},
	{Name: "v4-low-kdf", KDFIter: 64000, PageSize: 4096, Reserve: 80, hashNew: sha512.New},
	{Name: "v3", KDFIter: 64000, PageSize: 1024, Reserve: 48, hashNew: sha1.New},
}

func (p Profile) macSize() int { return p.hashNew().Size() }

// deriveKeys expands key into the page cipher key and the HMAC key for
// this profile. A RawKeySize key is used directly; anything else runs
// through PBKDF2 with the file salt.
func (p Profile) deriveKeys(key, salt []byte) (encKey, macKey []byte) {
	if len(key) == RawKeySize {
		encKey = key
	} else {
		encKey = pbkdf2.Key(key, salt, p.KDFIter, RawKeySize, p.hashNew)
	}
	macSalt := make([]byte, len(salt))
	for i, b := range salt {
		macSalt[i] = b ^ 0x3a
	}
	macKey = pbkdf2.Key(encKey, macSalt, 2, RawKeySize, p.hashNew)
	return encKey, macKey
}

// pageContent returns the encrypted content region of a page. Page 1
// starts after the salt.
func (p Profile) pageContent(page []byte, pageNo uint32) []byte {
	start := 0
	if pageNo == 1 {
		start = saltSize
	}
	return page[start : p.PageSize-p.Reserve]
}

// authenticatePage checks the stored page HMAC: content, then IV, then
// the little-endian page number.
func (p Profile) authenticatePage(macKey, page []byte, pageNo uint32) bool {
	content := p.pageContent(page, pageNo)
	iv := page[p.PageSize-p.Reserve : p.PageSize-p.Reserve+ivSize]
	stored := page[p.PageSize-p.Reserve+ivSize : p.PageSize-p.Reserve+ivSize+p.macSize()]

	mac := hmac.New(p.hashNew, macKey)
	mac.Write(content)
	mac.Write(iv)
	var no [4]byte
	binary.LittleEndian.PutUint32(no[:], pageNo)
	mac.Write(no[:])
	return hmac.Equal(mac.Sum(nil), stored)
}

// decryptPage appends the plaintext of one page to dst. The reserve
// trailer is carried over untouched: SQLite ignores its content and the
// page-1 header already declares its size.
func (p Profile) decryptPage(dst, encKey, page []byte, pageNo uint32) ([]byte, error) {
	content := p.pageContent(page, pageNo)
	iv := page[p.PageSize-p.Reserve : p.PageSize-p.Reserve+ivSize]

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	plain := make([]byte, len(content))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, content)

	if pageNo == 1 {
		dst = append(dst, plainHeader...)
	}
	dst = append(dst, plain...)
	dst = append(dst, page[p.PageSize-p.Reserve:p.PageSize]...)
	return dst, nil
}

// IsPlaintext reports whether the file at path is an unencrypted SQLite
// database.
func IsPlaintext(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	header := make([]byte, len(plainHeader))
	if _, err := f.Read(header); err != nil {
		return false, err
	}
	return bytes.Equal(header, []byte(plainHeader)), nil
}

// ValidateKey checks key against the database at path and returns the
// matching cipher profile. Only page 1 is authenticated; that is enough
// to tell a right key from a wrong one.
func ValidateKey(path string, key []byte) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read database: %w", err)
	}
	return validateKey(data, key)
}

func validateKey(data, key []byte) (Profile, error) {
	for _, p := range Profiles {
		if len(data) < p.PageSize {
			continue
		}
		salt := data[:saltSize]
		_, macKey := p.deriveKeys(key, salt)
		if p.authenticatePage(macKey, data[:p.PageSize], 1) {
			return p, nil
		}
	}
	return Profile{}, ErrKeyRejected
}

// DecryptFile decrypts the database at src into dst as a plaintext
// SQLite file. Pages that fail authentication abort the decryption: a
// torn write is better detected than silently carried through.
func DecryptFile(src, dst string, key []byte) (Profile, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return Profile{}, fmt.Errorf("read database: %w", err)
	}
	p, err := validateKey(data, key)
	if err != nil {
		return Profile{}, err
	}
	if len(data)%p.PageSize != 0 {
		return Profile{}, fmt.Errorf("database size %d is not a multiple of page size %d", len(data), p.PageSize)
	}

	salt := data[:saltSize]
	encKey, macKey := p.deriveKeys(key, salt)

	out := make([]byte, 0, len(data))
	pages := len(data) / p.PageSize
	for i := 0; i < pages; i++ {
		pageNo := uint32(i + 1)
		page := data[i*p.PageSize : (i+1)*p.PageSize]
		if !p.authenticatePage(macKey, page, pageNo) {
			return Profile{}, fmt.Errorf("page %d failed authentication: %w", pageNo, ErrKeyRejected)
		}
		if out, err = p.decryptPage(out, encKey, page, pageNo); err != nil {
			return Profile{}, fmt.Errorf("page %d: %w", pageNo, err)
		}
	}
	if err := os.WriteFile(dst, out, 0o600); err != nil {
		return Profile{}, fmt.Errorf("write plaintext copy: %w", err)
	}
	return p, nil
}

// DecryptToTemp decrypts src into a fresh temp file and returns its
// path. The caller removes the file when done with it.
func DecryptToTemp(src string, key []byte) (string, Profile, error) {
	tmp, err := os.CreateTemp("", "wereply-plain-*.db")
	if err != nil {
		return "", Profile{}, fmt.Errorf("temp file: %w", err)
	}
	tmp.Close()
	p, err := DecryptFile(src, tmp.Name(), key)
	if err != nil {
		os.Remove(tmp.Name())
		return "", Profile{}, err
	}
	return tmp.Name(), p, nil
}
