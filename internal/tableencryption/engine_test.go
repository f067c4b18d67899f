package tableencryption

import (
	"bytes"
	"context"
	"crypto/aes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	keywrap "github.com/NickBall/go-aes-key-wrap"
	"github.com/stretchr/testify/require"
)

type keyMap map[string][]byte

func (m keyMap) ResolveKey(_ context.Context, id string) ([]byte, error) {
	key, ok := m[id]
	if !ok {
		return nil, errors.New("no such key")
	}
	return key, nil
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Options{
		KeyEncryptionKeyID: "kek1",
		Resolver:           keyMap{"kek1": bytes.Repeat([]byte{7}, 32)},
	})
	require.NoError(t, err)
	return e
}

func TestColumnIVKeepsRowKeyFirst(t *testing.T) {
	iv := ColumnIV(make([]byte, 16), "P", "R", "C")
	require.Equal(t, "db7dde44504b7d54d0207b511d8d2845", hex.EncodeToString(iv))
	// SHA-256(zero IV || "PRC"), the order a reader might expect.
	require.NotEqual(t, "8cd5463e15fe0f8d3e71a5bb066959d6", hex.EncodeToString(iv))
}

func TestKeyWrapVector(t *testing.T) {
	// RFC 3394 4.6: 256 bits of key data with a 256-bit KEK.
	kek, err := aes.NewCipher(mustHex(t, "000102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F"))
	require.NoError(t, err)
	keyData := mustHex(t, "00112233445566778899AABBCCDDEEFF000102030405060708090A0B0C0D0E0F")
	want := mustHex(t, "28C9F404C4B810F4CBCCB35CFB87F8263F5786E2D80ED326CBC7F0E71A99F43BFB988B9B7A02DD21")

	wrapped, err := keywrap.Wrap(kek, keyData)
	require.NoError(t, err)
	require.Equal(t, want, wrapped)

	unwrapped, err := keywrap.Unwrap(kek, wrapped)
	require.NoError(t, err)
	require.Equal(t, keyData, unwrapped)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	props := map[string]any{
		"PartitionKey": "pk",
		"RowKey":       "rk",
		"token":        "s3cret",
		"empty":        "",
		"plain":        "visible",
		"count":        "5",
	}

	enc, err := e.Encrypt(ctx, "pk", "rk", props, []string{"token", "empty", "notpresent"})
	require.NoError(t, err)
	require.Contains(t, enc, MetadataKeyProperty)
	require.Contains(t, enc, MetadataColumnsProperty)
	require.IsType(t, []byte{}, enc["token"])
	require.IsType(t, []byte{}, enc["empty"])
	require.Equal(t, "visible", enc["plain"])
	require.Equal(t, "s3cret", props["token"], "input must not be modified")

	var data EncryptionData
	require.NoError(t, json.Unmarshal([]byte(enc[MetadataKeyProperty].(string)), &data))
	require.Equal(t, "kek1", data.WrappedContentKey.KeyID)
	require.Equal(t, KeyWrapAlgorithm, data.WrappedContentKey.Algorithm)
	require.Len(t, data.WrappedContentKey.EncryptedKey, 40)
	require.Equal(t, ProtocolVersion, data.EncryptionAgent.Protocol)
	require.Equal(t, ContentAlgorithm, data.EncryptionAgent.EncryptionAlgorithm)
	require.Len(t, data.ContentEncryptionIV, 16)

	dec, err := e.Decrypt(ctx, "pk", "rk", enc)
	require.NoError(t, err)
	require.Equal(t, props, dec)
}

func TestMetadataJSONShape(t *testing.T) {
	e := newEngine(t)
	enc, err := e.Encrypt(context.Background(), "pk", "rk", map[string]any{"a": "b"}, []string{"a"})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(enc[MetadataKeyProperty].(string)), &doc))
	require.ElementsMatch(t, []string{"WrappedContentKey", "EncryptionAgent", "ContentEncryptionIV", "KeyWrappingMetadata"}, keys(doc))
	require.ElementsMatch(t, []string{"KeyId", "EncryptedKey", "Algorithm"}, keys(doc["WrappedContentKey"].(map[string]any)))
	require.ElementsMatch(t, []string{"Protocol", "EncryptionAlgorithm"}, keys(doc["EncryptionAgent"].(map[string]any)))
	require.IsType(t, "", doc["ContentEncryptionIV"])
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestColumnsEncryptedWithDerivedIV(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.rand = bytes.NewReader(append(bytes.Repeat([]byte{1}, 32), make([]byte, 16)...))

	enc, err := e.Encrypt(ctx, "P", "R", map[string]any{"C": "hello"}, []string{"C"})
	require.NoError(t, err)

	block, err := aes.NewCipher(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	want := encryptCBC(block, mustHex(t, "db7dde44504b7d54d0207b511d8d2845"), []byte("hello"))
	require.Equal(t, want, enc["C"])
}

func TestNoColumnsPresentWritesNoMetadata(t *testing.T) {
	e := newEngine(t)
	props := map[string]any{"plain": "x"}

	enc, err := e.Encrypt(context.Background(), "pk", "rk", props, []string{"token"})
	require.NoError(t, err)
	require.Equal(t, props, enc)

	enc, err = e.Encrypt(context.Background(), "pk", "rk", props, nil)
	require.NoError(t, err)
	require.NotContains(t, enc, MetadataKeyProperty)
	require.NotContains(t, enc, MetadataColumnsProperty)

	dec, err := e.Decrypt(context.Background(), "pk", "rk", props)
	require.NoError(t, err)
	require.Equal(t, props, dec)
}

func TestEncryptRejectsNonStrings(t *testing.T) {
	e := newEngine(t)
	for _, v := range []any{nil, 5, true, []byte("x")} {
		_, err := e.Encrypt(context.Background(), "pk", "rk", map[string]any{"token": v}, []string{"token"})
		require.Error(t, err, "%T", v)
		require.True(t, ErrCrypto.Has(err))
	}
}

func TestUnknownKeyEncryptionKey(t *testing.T) {
	e, err := New(Options{KeyEncryptionKeyID: "missing", Resolver: keyMap{}})
	require.NoError(t, err)
	_, err = e.Encrypt(context.Background(), "pk", "rk", map[string]any{"token": "x"}, []string{"token"})
	require.True(t, ErrCrypto.Has(err), "got %v", err)
	require.Contains(t, err.Error(), "missing")
}

func TestDecryptRejectsUnrecognizedScheme(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	enc, err := e.Encrypt(ctx, "pk", "rk", map[string]any{"token": "x"}, []string{"token"})
	require.NoError(t, err)

	tamper := func(mutate func(*EncryptionData)) map[string]any {
		var data EncryptionData
		require.NoError(t, json.Unmarshal([]byte(enc[MetadataKeyProperty].(string)), &data))
		mutate(&data)
		b, err := json.Marshal(data)
		require.NoError(t, err)
		out := map[string]any{}
		for k, v := range enc {
			out[k] = v
		}
		out[MetadataKeyProperty] = string(b)
		return out
	}

	_, err = e.Decrypt(ctx, "pk", "rk", tamper(func(d *EncryptionData) { d.EncryptionAgent.Protocol = "2.0" }))
	require.ErrorContains(t, err, `unrecognized encryption protocol "2.0"`)

	_, err = e.Decrypt(ctx, "pk", "rk", tamper(func(d *EncryptionData) { d.EncryptionAgent.EncryptionAlgorithm = "AES_GCM_256" }))
	require.ErrorContains(t, err, "unrecognized content encryption algorithm")

	_, err = e.Decrypt(ctx, "pk", "rk", tamper(func(d *EncryptionData) { d.WrappedContentKey.Algorithm = "RSA-OAEP" }))
	require.ErrorContains(t, err, "unrecognized key wrapping algorithm")
}

func TestDecryptWithWrongRowIdentityFails(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	enc, err := e.Encrypt(ctx, "pk", "rk", map[string]any{"token": "a longer secret value"}, []string{"token"})
	require.NoError(t, err)

	dec, err := e.Decrypt(ctx, "pk", "other", enc)
	if err == nil {
		require.NotEqual(t, "a longer secret value", dec["token"])
		return
	}
	require.True(t, ErrCrypto.Has(err))
}
