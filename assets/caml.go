package assets

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/flate"
)

// The compressed code format: a canonical CBOR envelope carrying the
// writer's version and a flate-compressed, CBOR-encoded string list.
// Entry zero is the source text; further entries are available to
// writers that dictionary-share repeated fragments. Canonical encoding
// keeps equal inputs byte-identical, so compressed files are stable
// across stores.

const camlMagic = "caml"

type camlEnvelope struct {
	Magic   string `cbor:"magic"`
	Version string `cbor:"version"`
	Block   []byte `cbor:"block"`
}

var camlEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("assets: CBOR canonical mode init failed: " + err.Error())
	}
	camlEncMode = em
}

// compressStrings packs a string list into compressed-format bytes.
func compressStrings(strings []string) ([]byte, error) {
	encoded, err := camlEncMode.Marshal(strings)
	if err != nil {
		return nil, fmt.Errorf("encoding string block: %w", err)
	}

	var compressed bytes.Buffer
	w, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(encoded); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return camlEncMode.Marshal(camlEnvelope{
		Magic:   camlMagic,
		Version: RuntimeVersion,
		Block:   compressed.Bytes(),
	})
}

// decompressStrings unpacks compressed-format bytes, returning the
// string list and the writer's declared version.
func decompressStrings(data []byte) ([]string, string, error) {
	var envelope camlEnvelope
	if err := cbor.Unmarshal(data, &envelope); err != nil {
		return nil, "", fmt.Errorf("decoding envelope: %w", err)
	}
	if envelope.Magic != camlMagic {
		return nil, "", fmt.Errorf("not a compressed code file")
	}

	r := flate.NewReader(bytes.NewReader(envelope.Block))
	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, envelope.Version, fmt.Errorf("decompressing string block: %w", err)
	}
	if err := r.Close(); err != nil {
		return nil, envelope.Version, err
	}

	var strings []string
	if err := cbor.Unmarshal(decoded, &strings); err != nil {
		return nil, envelope.Version, fmt.Errorf("decoding string block: %w", err)
	}
	return strings, envelope.Version, nil
}
