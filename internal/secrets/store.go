// Package secrets keeps provider API keys in a per-user file (0600) with
// AES-GCM obfuscation. Not a replacement for OS keychains, but keys never
// sit in plain-text config.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	fileName    = "credentials.json"
	fileVersion = 1
)

type credential struct {
	Cipher  string    `json:"cipher"` // base64(nonce || ciphertext)
	AddedAt time.Time `json:"added_at"`
}

type credentialFile struct {
	Version   int                   `json:"version"`
	Providers map[string]credential `json:"providers"`
}

// StoreProviderKey encrypts and stores the key under the provider name,
// replacing any previous key for that provider.
func StoreProviderKey(provider, key string) error {
	provider = norm(provider)
	if provider == "" {
		return fmt.Errorf("provider required")
	}
	path, err := filePath()
	if err != nil {
		return err
	}
	cf, _ := load(path)
	if cf.Providers == nil {
		cf.Providers = map[string]credential{}
	}
	ct, err := encrypt([]byte(key))
	if err != nil {
		return err
	}
	cf.Providers[provider] = credential{
		Cipher:  base64.StdEncoding.EncodeToString(ct),
		AddedAt: time.Now().UTC(),
	}
	return save(path, cf)
}

// FetchProviderKey returns the decrypted key for the provider.
func FetchProviderKey(provider string) (string, error) {
	provider = norm(provider)
	if provider == "" {
		return "", fmt.Errorf("provider required")
	}
	path, err := filePath()
	if err != nil {
		return "", err
	}
	cf, err := load(path)
	if err != nil {
		return "", err
	}
	cred, ok := cf.Providers[provider]
	if !ok {
		return "", fmt.Errorf("no key stored for %q", provider)
	}
	raw, err := base64.StdEncoding.DecodeString(cred.Cipher)
	if err != nil {
		return "", err
	}
	pt, err := decrypt(raw)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// DeleteProviderKey removes the provider's key. Deleting a provider that has
// no stored key is a no-op.
func DeleteProviderKey(provider string) error {
	provider = norm(provider)
	if provider == "" {
		return fmt.Errorf("provider required")
	}
	path, err := filePath()
	if err != nil {
		return err
	}
	cf, err := load(path)
	if err != nil {
		return err
	}
	delete(cf.Providers, provider)
	return save(path, cf)
}

func filePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "ledgerlens")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

func load(path string) (credentialFile, error) {
	var cf credentialFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return credentialFile{Version: fileVersion}, nil
		}
		return cf, err
	}
	if err := json.Unmarshal(data, &cf); err != nil {
		return cf, err
	}
	return cf, nil
}

func save(path string, cf credentialFile) error {
	cf.Version = fileVersion
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func norm(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// masterKey derives the obfuscation key from stable machine and user
// identity, so the credential file is not portable between accounts.
func masterKey() []byte {
	host, _ := os.Hostname()
	base := strings.Join([]string{"ledgerlens", runtime.GOOS, host, os.Getenv("USER")}, ":")
	hash := sha256.Sum256([]byte(base))
	return hash[:]
}

func encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(masterKey())
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(masterKey())
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	body := ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}
