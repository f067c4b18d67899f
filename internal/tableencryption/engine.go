// Package tableencryption encrypts selected table properties on the client
// in the format written by the .NET table storage encryption client, so rows
// are readable by either implementation.
package tableencryption

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	keywrap "github.com/NickBall/go-aes-key-wrap"
	"github.com/zeebo/errs"
)

const (
	// MetadataKeyProperty holds the wrapped content key as a JSON string.
	MetadataKeyProperty = "_ClientEncryptionMetadata1"
	// MetadataColumnsProperty holds the encrypted JSON list of encrypted
	// property names.
	MetadataColumnsProperty = "_ClientEncryptionMetadata2"

	ProtocolVersion      = "1.0"
	ContentAlgorithm     = "AES_CBC_256"
	KeyWrapAlgorithm     = "A256KW"
	DefaultLibraryString = "portal-entitymeta"

	keySize = 32
	ivSize  = aes.BlockSize
)

// ErrCrypto classes every encryption and decryption failure.
var ErrCrypto = errs.Class("table encryption")

// KeyResolver returns key-encryption keys by id.
type KeyResolver interface {
	ResolveKey(ctx context.Context, keyID string) ([]byte, error)
}

// Options configures an Engine.
type Options struct {
	// KeyEncryptionKeyID names the KEK new rows are wrapped with. Reads use
	// the id recorded in each row.
	KeyEncryptionKeyID string
	Resolver           KeyResolver
	// EncryptionLibrary is recorded in the key wrapping metadata.
	EncryptionLibrary string
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

// Engine encrypts and decrypts the properties of one row at a time. It is
// safe for concurrent use.
type Engine struct {
	kekID    string
	resolver KeyResolver
	library  string
	rand     io.Reader
}

func New(opts Options) (*Engine, error) {
	if opts.KeyEncryptionKeyID == "" {
		return nil, ErrCrypto.New("key encryption key id is required")
	}
	if opts.Resolver == nil {
		return nil, ErrCrypto.New("key resolver is required")
	}
	e := &Engine{
		kekID:    opts.KeyEncryptionKeyID,
		resolver: opts.Resolver,
		library:  opts.EncryptionLibrary,
		rand:     opts.Rand,
	}
	if e.library == "" {
		e.library = DefaultLibraryString
	}
	if e.rand == nil {
		e.rand = rand.Reader
	}
	return e, nil
}

type wrappedContentKey struct {
	KeyID        string `json:"KeyId"`
	EncryptedKey []byte `json:"EncryptedKey"`
	Algorithm    string `json:"Algorithm"`
}

type encryptionAgent struct {
	Protocol            string `json:"Protocol"`
	EncryptionAlgorithm string `json:"EncryptionAlgorithm"`
}

type keyWrappingMetadata struct {
	EncryptionLibrary string `json:"EncryptionLibrary,omitempty"`
}

// EncryptionData is the document stored in MetadataKeyProperty.
type EncryptionData struct {
	WrappedContentKey   wrappedContentKey   `json:"WrappedContentKey"`
	EncryptionAgent     encryptionAgent     `json:"EncryptionAgent"`
	ContentEncryptionIV []byte              `json:"ContentEncryptionIV"`
	KeyWrappingMetadata keyWrappingMetadata `json:"KeyWrappingMetadata"`
}

// Encrypt returns a copy of props with every present column in columns
// replaced by its ciphertext and the two metadata properties added. When none
// of columns is present the copy is returned without metadata. Encrypted
// values must be strings.
func (e *Engine) Encrypt(ctx context.Context, partitionKey, rowKey string, props map[string]any, columns []string) (map[string]any, error) {
	out := maps.Clone(props)
	if out == nil {
		out = map[string]any{}
	}

	var present []string
	for _, col := range columns {
		v, ok := props[col]
		if !ok {
			continue
		}
		if _, isString := v.(string); !isString {
			return nil, ErrCrypto.New("property %q: only string values can be encrypted, got %T", col, v)
		}
		if !slices.Contains(present, col) {
			present = append(present, col)
		}
	}
	if len(present) == 0 {
		return out, nil
	}

	cek := make([]byte, keySize)
	contentIV := make([]byte, ivSize)
	if _, err := io.ReadFull(e.rand, cek); err != nil {
		return nil, ErrCrypto.Wrap(err)
	}
	if _, err := io.ReadFull(e.rand, contentIV); err != nil {
		return nil, ErrCrypto.Wrap(err)
	}

	kek, err := e.resolveKEK(ctx, e.kekID)
	if err != nil {
		return nil, err
	}
	wrapped, err := keywrap.Wrap(kek, cek)
	if err != nil {
		return nil, ErrCrypto.New("wrap content key: %v", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, ErrCrypto.Wrap(err)
	}
	for _, col := range present {
		out[col] = encryptCBC(block, ColumnIV(contentIV, partitionKey, rowKey, col), []byte(props[col].(string)))
	}

	list, err := json.Marshal(present)
	if err != nil {
		return nil, ErrCrypto.Wrap(err)
	}
	out[MetadataColumnsProperty] = encryptCBC(block, ColumnIV(contentIV, partitionKey, rowKey, MetadataColumnsProperty), list)

	data, err := json.Marshal(EncryptionData{
		WrappedContentKey: wrappedContentKey{
			KeyID:        e.kekID,
			EncryptedKey: wrapped,
			Algorithm:    KeyWrapAlgorithm,
		},
		EncryptionAgent: encryptionAgent{
			Protocol:            ProtocolVersion,
			EncryptionAlgorithm: ContentAlgorithm,
		},
		ContentEncryptionIV: contentIV,
		KeyWrappingMetadata: keyWrappingMetadata{EncryptionLibrary: e.library},
	})
	if err != nil {
		return nil, ErrCrypto.Wrap(err)
	}
	out[MetadataKeyProperty] = string(data)
	return out, nil
}

// Decrypt returns a copy of props with the listed columns decrypted to
// strings and the metadata properties removed. Rows without
// MetadataKeyProperty are returned unchanged.
func (e *Engine) Decrypt(ctx context.Context, partitionKey, rowKey string, props map[string]any) (map[string]any, error) {
	out := maps.Clone(props)
	if out == nil {
		out = map[string]any{}
	}
	raw, ok := props[MetadataKeyProperty]
	if !ok || raw == nil {
		return out, nil
	}
	data, err := parseEncryptionData(raw)
	if err != nil {
		return nil, err
	}
	if err := data.validate(); err != nil {
		return nil, err
	}

	kek, err := e.resolveKEK(ctx, data.WrappedContentKey.KeyID)
	if err != nil {
		return nil, err
	}
	cek, err := keywrap.Unwrap(kek, data.WrappedContentKey.EncryptedKey)
	if err != nil {
		return nil, ErrCrypto.New("unwrap content key with %q: %v", data.WrappedContentKey.KeyID, err)
	}
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, ErrCrypto.Wrap(err)
	}

	listCiphertext, err := binaryValue(MetadataColumnsProperty, props[MetadataColumnsProperty])
	if err != nil {
		return nil, err
	}
	listJSON, err := decryptCBC(block, ColumnIV(data.ContentEncryptionIV, partitionKey, rowKey, MetadataColumnsProperty), listCiphertext)
	if err != nil {
		return nil, ErrCrypto.New("decrypt encrypted property list: %v", err)
	}
	var columns []string
	if err := json.Unmarshal(listJSON, &columns); err != nil {
		return nil, ErrCrypto.New("parse encrypted property list: %v", err)
	}

	for _, col := range columns {
		v, ok := props[col]
		if !ok {
			continue
		}
		ciphertext, err := binaryValue(col, v)
		if err != nil {
			return nil, err
		}
		plaintext, err := decryptCBC(block, ColumnIV(data.ContentEncryptionIV, partitionKey, rowKey, col), ciphertext)
		if err != nil {
			return nil, ErrCrypto.New("decrypt property %q: %v", col, err)
		}
		out[col] = string(plaintext)
	}
	delete(out, MetadataKeyProperty)
	delete(out, MetadataColumnsProperty)
	return out, nil
}

// IsMetadataProperty reports whether name is one of the properties this
// package manages.
func IsMetadataProperty(name string) bool {
	return name == MetadataKeyProperty || name == MetadataColumnsProperty
}

func (e *Engine) resolveKEK(ctx context.Context, keyID string) (cipher.Block, error) {
	key, err := e.resolver.ResolveKey(ctx, keyID)
	if err != nil {
		return nil, ErrCrypto.New("resolve key encryption key %q: %v", keyID, err)
	}
	if len(key) != keySize {
		return nil, ErrCrypto.New("key encryption key %q is %d bytes, %s needs %d", keyID, len(key), KeyWrapAlgorithm, keySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrCrypto.Wrap(err)
	}
	return block, nil
}

func parseEncryptionData(raw any) (*EncryptionData, error) {
	var text []byte
	switch v := raw.(type) {
	case string:
		text = []byte(v)
	case []byte:
		text = v
	default:
		return nil, ErrCrypto.New("%s is %T, not a JSON string", MetadataKeyProperty, raw)
	}
	var data EncryptionData
	if err := json.Unmarshal(text, &data); err != nil {
		return nil, ErrCrypto.New("parse %s: %v", MetadataKeyProperty, err)
	}
	return &data, nil
}

func (d *EncryptionData) validate() error {
	if d.EncryptionAgent.Protocol != ProtocolVersion {
		return ErrCrypto.New("unrecognized encryption protocol %q", d.EncryptionAgent.Protocol)
	}
	if d.EncryptionAgent.EncryptionAlgorithm != ContentAlgorithm {
		return ErrCrypto.New("unrecognized content encryption algorithm %q", d.EncryptionAgent.EncryptionAlgorithm)
	}
	if d.WrappedContentKey.Algorithm != KeyWrapAlgorithm {
		return ErrCrypto.New("unrecognized key wrapping algorithm %q", d.WrappedContentKey.Algorithm)
	}
	if len(d.ContentEncryptionIV) != ivSize {
		return ErrCrypto.New("content encryption IV is %d bytes", len(d.ContentEncryptionIV))
	}
	return nil
}

func binaryValue(name string, v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			return nil, ErrCrypto.New("property %q is not base64: %v", name, err)
		}
		return decoded, nil
	case nil:
		return nil, ErrCrypto.New("property %q is missing", name)
	default:
		return nil, ErrCrypto.New("property %q is %T, not binary", name, v)
	}
}

func encryptCBC(block cipher.Block, iv, plaintext []byte) []byte {
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func decryptCBC(block cipher.Block, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, block.BlockSize())
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
