// Package objectcodec computes Git object hashes and translates them to
// blob-store paths, and encodes/decodes the zlib loose-object wire
// format.
package objectcodec

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1" //nolint:gosec // Git object identity is SHA-1 by protocol, not a security boundary here.
	"fmt"
	"io"
	"regexp"

	"github.com/anishathalye/git-remote-dropbox/internal/errs"
)

// hashPattern matches a 40-hex-character Git object id.
var hashPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsHash reports whether s looks like a 40-hex Git object hash.
func IsHash(s string) bool {
	return hashPattern.MatchString(s)
}

// ObjectPath returns the blob-store path for the loose object named by
// hash, relative to the repository root: objects/<hh>/<hhh...h>.
func ObjectPath(hash string) (string, error) {
	if !IsHash(hash) {
		return "", errs.New(errs.CorruptObject, fmt.Sprintf("not a valid object hash: %q", hash))
	}
	return fmt.Sprintf("objects/%s/%s", hash[:2], hash[2:]), nil
}

// Hash computes the Git object id of a loose object given its type and
// uncompressed payload, per the standard "<type> <len>\0<payload>"
// header.
func Hash(objType string, payload []byte) string {
	h := sha1.New() //nolint:gosec // see IsHash comment
	fmt.Fprintf(h, "%s %d\x00", objType, len(payload))
	h.Write(payload)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Encode produces the zlib-compressed loose-object bytes for a type and
// payload: the form the blob store is expected to hold at
// ObjectPath(hash), and one git can read as a loose object. The
// compressed bytes come from Go's compress/zlib and are not guaranteed
// to be byte-identical to what `git hash-object -w` writes to disk.
func Encode(objType string, payload []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	fmt.Fprintf(w, "%s %d\x00", objType, len(payload))
	w.Write(payload) //nolint:errcheck // bytes.Buffer never errors
	w.Close()         //nolint:errcheck // flush path; Encode's caller owns the result
	return buf.Bytes()
}

// Decode parses zlib-compressed loose-object bytes (as returned by the
// blob store, or read from a local loose-object file) into its type and
// payload.
func Decode(raw []byte) (objType string, payload []byte, err error) {
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", nil, errs.Wrap(errs.CorruptObject, err, "zlib decode")
	}
	defer r.Close()

	header, rest, err := readHeader(r)
	if err != nil {
		return "", nil, err
	}
	return header.objType, rest, nil
}

type looseHeader struct {
	objType string
	size    int
}

func readHeader(r io.Reader) (looseHeader, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return looseHeader{}, nil, errs.Wrap(errs.CorruptObject, err, "read loose object")
	}

	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		return looseHeader{}, nil, errs.New(errs.CorruptObject, "loose object missing NUL header terminator")
	}
	header := string(data[:nul])
	payload := data[nul+1:]

	var objType string
	var size int
	if _, scanErr := fmt.Sscanf(header, "%s %d", &objType, &size); scanErr != nil {
		return looseHeader{}, nil, errs.Wrap(errs.CorruptObject, scanErr, "parse loose object header")
	}
	if size != len(payload) {
		return looseHeader{}, nil, errs.New(errs.CorruptObject,
			fmt.Sprintf("loose object header size %d does not match payload length %d", size, len(payload)))
	}

	return looseHeader{objType: objType, size: size}, payload, nil
}

// HashFromLoose computes the object hash of an already-encoded loose
// object, decoding it first. (internal/transfer verifies downloaded
// objects with Decode and Hash directly rather than through this.)
func HashFromLoose(raw []byte) (string, error) {
	objType, payload, err := Decode(raw)
	if err != nil {
		return "", err
	}
	return Hash(objType, payload), nil
}
