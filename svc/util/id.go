package util

import (
	"github.com/ipfs/go-cid"
	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// DeriveID returns the first n characters of the base58 (Bitcoin alphabet)
// encoding of the BLAKE3-256 digest of content. Previously issued ids stay
// valid only while both the hash and the alphabet stay exactly these.
func DeriveID(content []byte, n int) string {
	sum := blake3.Sum256(content)
	enc := base58.Encode(sum[:])
	if n <= 0 || n > len(enc) {
		return enc
	}
	return enc[:n]
}

// ContentCID returns the CIDv1 (raw codec, blake3 multihash) of content.
func ContentCID(content []byte) string {
	sum := blake3.Sum256(content)
	mh, err := multihash.Encode(sum[:], multihash.BLAKE3)
	if err != nil {
		return ""
	}
	return cid.NewCidV1(cid.Raw, multihash.Multihash(mh)).String()
}
