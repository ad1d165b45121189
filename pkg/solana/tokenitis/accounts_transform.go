package tokenitis

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/tokenitis-server/pkg/solana"
	"github.com/code-payments/tokenitis-server/pkg/solana/binary"
)

var (
	ErrAccountDataTooSmall = errors.New("account data too small for transform")
	ErrDuplicateKey        = errors.New("duplicate key in token map")
)

// Token is one asset slot of a recipe. The asset's mint address is the key
// of the map holding it.
type Token struct {
	Amount uint64
}

type TransformMetadata struct {
	Name   string
	Symbol string
	Uri    string
}

// TransformAccount is the state of a registry transform. Inputs and outputs
// are keyed by the base58 mint address.
type TransformAccount struct {
	Initialized bool
	Metadata    TransformMetadata
	Inputs      map[string]Token
	Outputs     map[string]Token
}

func NewTransformAccount(metadata TransformMetadata, inputs, outputs map[string]Token) *TransformAccount {
	return &TransformAccount{
		Initialized: true,
		Metadata:    metadata,
		Inputs:      cloneTokens(inputs),
		Outputs:     cloneTokens(outputs),
	}
}

func (obj *TransformAccount) Clone() *TransformAccount {
	return &TransformAccount{
		Initialized: obj.Initialized,
		Metadata:    obj.Metadata,
		Inputs:      cloneTokens(obj.Inputs),
		Outputs:     cloneTokens(obj.Outputs),
	}
}

// GetTransformAccountSize is the number of bytes needed to store a transform
// with the provided recipe.
func GetTransformAccountSize(metadata TransformMetadata, inputs, outputs map[string]Token) int {
	return (1 + // initialized
		getMetadataSize(metadata) + // metadata
		getTokenMapSize(inputs) + // inputs
		getTokenMapSize(outputs)) // outputs
}

func getMetadataSize(metadata TransformMetadata) int {
	return (4 + len(metadata.Name) +
		4 + len(metadata.Symbol) +
		4 + len(metadata.Uri))
}

func getTokenMapSize(tokens map[string]Token) int {
	return 4 + len(tokens)*(32+8)
}

func (obj *TransformAccount) Marshal() ([]byte, error) {
	data := make([]byte, 0, GetTransformAccountSize(obj.Metadata, obj.Inputs, obj.Outputs))

	data = binary.AppendBool(data, obj.Initialized)

	data, err := appendMetadata(data, obj.Metadata)
	if err != nil {
		return nil, err
	}
	data, err = appendTokenMap(data, obj.Inputs)
	if err != nil {
		return nil, errors.Wrap(err, "invalid inputs")
	}
	data, err = appendTokenMap(data, obj.Outputs)
	if err != nil {
		return nil, errors.Wrap(err, "invalid outputs")
	}

	return data, nil
}

// MarshalInto encodes the transform into preallocated account data. The
// remainder of dst is zeroed.
func (obj *TransformAccount) MarshalInto(dst []byte) error {
	encoded, err := obj.Marshal()
	if err != nil {
		return err
	}
	if len(encoded) > len(dst) {
		return errors.Wrapf(ErrAccountDataTooSmall, "need %d bytes, have %d", len(encoded), len(dst))
	}

	n := copy(dst, encoded)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// Unmarshal decodes a transform from the start of data. Trailing bytes are
// ignored, so zeroed account data decodes to an uninitialized transform.
func (obj *TransformAccount) Unmarshal(data []byte) error {
	var offset int

	if err := binary.ReadBool(data, &obj.Initialized, &offset); err != nil {
		return errors.Wrap(err, "invalid initialized flag")
	}
	if err := readMetadata(data, &obj.Metadata, &offset); err != nil {
		return errors.Wrap(err, "invalid metadata")
	}
	if err := readTokenMap(data, &obj.Inputs, &offset); err != nil {
		return errors.Wrap(err, "invalid inputs")
	}
	if err := readTokenMap(data, &obj.Outputs, &offset); err != nil {
		return errors.Wrap(err, "invalid outputs")
	}

	return nil
}

func (obj *TransformAccount) String() string {
	return fmt.Sprintf(
		"TransformAccount{initialized=%t,name=%s,symbol=%s,uri=%s,inputs=%s,outputs=%s}",
		obj.Initialized,
		obj.Metadata.Name,
		obj.Metadata.Symbol,
		obj.Metadata.Uri,
		tokenMapString(obj.Inputs),
		tokenMapString(obj.Outputs),
	)
}

// ValidateRecipe checks that every key is a 32 byte address and that no
// address is both an input and an output.
func ValidateRecipe(inputs, outputs map[string]Token) error {
	for key := range inputs {
		if _, err := solana.PublicKeyFromString(key); err != nil {
			return errors.Wrapf(ErrorInvalidRecipe, "input %s: %v", key, err)
		}
	}
	for key := range outputs {
		if _, err := solana.PublicKeyFromString(key); err != nil {
			return errors.Wrapf(ErrorInvalidRecipe, "output %s: %v", key, err)
		}
		if _, ok := inputs[key]; ok {
			return errors.Wrapf(ErrorInvalidRecipe, "%s is both an input and an output", key)
		}
	}
	return nil
}

// appendMetadata rejects strings that ReadString would refuse to decode.
func appendMetadata(dst []byte, metadata TransformMetadata) ([]byte, error) {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"name", metadata.Name},
		{"symbol", metadata.Symbol},
		{"uri", metadata.Uri},
	} {
		if !utf8.ValidString(field.value) {
			return nil, errors.Wrapf(binary.ErrInvalidString, "metadata %s", field.name)
		}
		dst = binary.AppendString(dst, field.value)
	}
	return dst, nil
}

func readMetadata(src []byte, dst *TransformMetadata, offset *int) error {
	if err := binary.ReadString(src, &dst.Name, offset); err != nil {
		return err
	}
	if err := binary.ReadString(src, &dst.Symbol, offset); err != nil {
		return err
	}
	return binary.ReadString(src, &dst.Uri, offset)
}

type tokenEntry struct {
	key    ed25519.PublicKey
	amount uint64
}

// Entries are written in raw key order, matching an ordered map keyed by
// address.
func appendTokenMap(dst []byte, tokens map[string]Token) ([]byte, error) {
	entries := make([]tokenEntry, 0, len(tokens))
	for key, token := range tokens {
		decoded, err := solana.PublicKeyFromString(key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, tokenEntry{key: decoded, amount: token.Amount})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})

	dst = binary.AppendUint32(dst, uint32(len(entries)))
	for _, entry := range entries {
		dst = binary.AppendKey32(dst, entry.key)
		dst = binary.AppendUint64(dst, entry.amount)
	}
	return dst, nil
}

func readTokenMap(src []byte, dst *map[string]Token, offset *int) error {
	var count uint32
	if err := binary.ReadUint32(src, &count, offset); err != nil {
		return err
	}

	// Bound the allocation by what the buffer could actually hold.
	remaining := (len(src) - *offset) / (32 + 8)
	if int64(count) > int64(remaining) {
		return binary.ErrUnexpectedEOF
	}

	tokens := make(map[string]Token, count)
	for i := uint32(0); i < count; i++ {
		var key ed25519.PublicKey
		var amount uint64

		if err := binary.ReadKey32(src, &key, offset); err != nil {
			return err
		}
		if err := binary.ReadUint64(src, &amount, offset); err != nil {
			return err
		}

		encoded := base58.Encode(key)
		if _, ok := tokens[encoded]; ok {
			return errors.Wrap(ErrDuplicateKey, encoded)
		}
		tokens[encoded] = Token{Amount: amount}
	}

	*dst = tokens
	return nil
}

func cloneTokens(tokens map[string]Token) map[string]Token {
	cloned := make(map[string]Token, len(tokens))
	for key, token := range tokens {
		cloned[key] = token
	}
	return cloned
}

func tokenMapString(tokens map[string]Token) string {
	keys := make([]string, 0, len(tokens))
	for key := range tokens {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = fmt.Sprintf("%s:%d", key, tokens[key].Amount)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
