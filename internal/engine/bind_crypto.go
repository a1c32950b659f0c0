// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"

	lua "github.com/yuin/gopher-lua"
	lmb "lmb.256lights.llc/pkg"
)

// newCryptoModule builds @lmb/crypto: encodings, digests, HMAC, and the
// small cipher set. Digest and cipher output is lowercase hex.
func newCryptoModule(L *lua.LState) lua.LValue {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"base64_encode": func(L *lua.LState) int {
			L.Push(lua.LString(base64.StdEncoding.EncodeToString([]byte(L.CheckString(1)))))
			return 1
		},
		"base64_decode": func(L *lua.LState) int {
			decoded, err := base64.StdEncoding.DecodeString(L.CheckString(1))
			if err != nil {
				raiseKind(L, lmb.KindCryptoParam, "invalid base64 input")
				return 0
			}
			L.Push(lua.LString(decoded))
			return 1
		},
		"crc32": func(L *lua.LState) int {
			L.Push(lua.LString(fmt.Sprintf("%x", crc32.ChecksumIEEE([]byte(L.CheckString(1))))))
			return 1
		},
		"md5":    digestFn(md5.New),
		"sha1":   digestFn(sha1.New),
		"sha256": digestFn(sha256.New),
		"sha384": digestFn(sha512.New384),
		"sha512": digestFn(sha512.New),
		"hmac":   hmacFn,
		"encrypt": func(L *lua.LState) int {
			return cipherFn(L, true)
		},
		"decrypt": func(L *lua.LState) int {
			return cipherFn(L, false)
		},
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	return mod
}

func digestFn(newHash func() hash.Hash) lua.LGFunction {
	return func(L *lua.LState) int {
		h := newHash()
		h.Write([]byte(L.CheckString(1)))
		L.Push(lua.LString(hex.EncodeToString(h.Sum(nil))))
		return 1
	}
}

func newDigest(algo string) (func() hash.Hash, bool) {
	switch algo {
	case "md5":
		return md5.New, true
	case "sha1":
		return sha1.New, true
	case "sha256":
		return sha256.New, true
	case "sha384":
		return sha512.New384, true
	case "sha512":
		return sha512.New, true
	default:
		return nil, false
	}
}

func hmacFn(L *lua.LState) int {
	algo := L.CheckString(1)
	data := L.CheckString(2)
	key := L.CheckString(3)
	newHash, ok := newDigest(algo)
	if !ok {
		raiseKind(L, lmb.KindCryptoParam, "unsupported hash %q", algo)
		return 0
	}
	mac := hmac.New(newHash, []byte(key))
	mac.Write([]byte(data))
	L.Push(lua.LString(hex.EncodeToString(mac.Sum(nil))))
	return 1
}

func cipherFn(L *lua.LState, encrypt bool) int {
	algo := L.CheckString(1)
	data := L.CheckString(2)
	key := L.CheckString(3)
	var iv string
	if L.GetTop() >= 4 && L.Get(4) != lua.LNil {
		iv = L.CheckString(4)
	}

	var block cipher.Block
	var err error
	needIV := true
	switch algo {
	case "aes-cbc":
		block, err = aes.NewCipher([]byte(key))
	case "des-cbc":
		block, err = des.NewCipher([]byte(key))
	case "des-ecb":
		block, err = des.NewCipher([]byte(key))
		needIV = false
	default:
		raiseKind(L, lmb.KindCryptoParam, "unsupported cipher %q", algo)
		return 0
	}
	if err != nil {
		raiseKind(L, lmb.KindCryptoParam, "invalid key length %d for %s", len(key), algo)
		return 0
	}
	if needIV && len(iv) != block.BlockSize() {
		raiseKind(L, lmb.KindCryptoParam, "expected %d-byte IV for %s", block.BlockSize(), algo)
		return 0
	}

	if encrypt {
		plaintext := pkcs7Pad([]byte(data), block.BlockSize())
		out := make([]byte, len(plaintext))
		if needIV {
			cipher.NewCBCEncrypter(block, []byte(iv)).CryptBlocks(out, plaintext)
		} else {
			ecbBlocks(block, out, plaintext, true)
		}
		L.Push(lua.LString(hex.EncodeToString(out)))
		return 1
	}

	raw, err := hex.DecodeString(data)
	if err != nil {
		raiseKind(L, lmb.KindCryptoParam, "ciphertext is not hex")
		return 0
	}
	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		raiseKind(L, lmb.KindCryptoParam, "ciphertext length %d is not a block multiple", len(raw))
		return 0
	}
	out := make([]byte, len(raw))
	if needIV {
		cipher.NewCBCDecrypter(block, []byte(iv)).CryptBlocks(out, raw)
	} else {
		ecbBlocks(block, out, raw, false)
	}
	plain, ok := pkcs7Unpad(out, block.BlockSize())
	if !ok {
		raiseKind(L, lmb.KindCryptoParam, "invalid padding")
		return 0
	}
	L.Push(lua.LString(plain))
	return 1
}

// ecbBlocks applies the block cipher block-by-block; crypto/cipher has no
// ECB mode wrapper.
func ecbBlocks(block cipher.Block, dst, src []byte, encrypt bool) {
	bs := block.BlockSize()
	for i := 0; i < len(src); i += bs {
		if encrypt {
			block.Encrypt(dst[i:i+bs], src[i:i+bs])
		} else {
			block.Decrypt(dst[i:i+bs], src[i:i+bs])
		}
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, false
		}
	}
	return data[:len(data)-pad], true
}
