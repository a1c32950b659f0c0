// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"testing"

	lmb "lmb.256lights.llc/pkg"
)

func TestCryptoFixtures(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"sha256 of space", `return require('@lmb/crypto').sha256(' ')`,
			"36a9e7f1c95b82ffb99743e0c5c4ce95d83c9a430aac59f84ef3cbfab6145068"},
		{"hmac sha1", `return require('@lmb/crypto').hmac('sha1', ' ', 'secret')`,
			"3fc26947ece0e3400c2216d2bcad669347e691ae"},
		{"aes-cbc encrypt", `return require('@lmb/crypto').encrypt('aes-cbc', ' ', '0123456701234567', '0123456701234567')`,
			"b019fc0029f1ae88e96597dc0667e7c8"},
		{"md5 empty", `return require('@lmb/crypto').md5('')`,
			"d41d8cd98f00b204e9800998ecf8427e"},
		{"sha1 empty", `return require('@lmb/crypto').sha1('')`,
			"da39a3ee5e6b4b0d3255bfef95601890afd80709"},
		{"sha384 empty", `return require('@lmb/crypto').sha384('')`,
			"38b060a751ac96384cd9327eb1b1e36a21fdb71114be07434c0cc7bf63f6e1da274edebfe76f65fbd51ad2f14898b95b"},
		{"sha512 empty", `return require('@lmb/crypto').sha512('')`,
			"cf83e1357eefb8bdf1542850d66d8007d620e4050b5715dc83f4a921d36ce9ce47d0d13c5d85f2b0ff8318d2877eec2f63b931bd47417a81a538327af927da3e"},
		{"crc32", `return require('@lmb/crypto').crc32('hello')`, "3610a686"},
		{"base64 encode", `return require('@lmb/crypto').base64_encode('hello')`, "aGVsbG8="},
		{"base64 decode", `return require('@lmb/crypto').base64_decode('aGVsbG8=')`, "hello"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := mustRun(t, test.script, Options{})
			if got.Text() != test.want {
				t.Errorf("= %q; want %q", got.Text(), test.want)
			}
		})
	}
}

func TestCryptoRoundTrips(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"aes-cbc", `
			local crypto = require('@lmb/crypto')
			local key, iv = '0123456701234567', 'abcdefghabcdefgh'
			local secret = 'attack at dawn'
			return crypto.decrypt('aes-cbc', crypto.encrypt('aes-cbc', secret, key, iv), key, iv) == secret
		`},
		{"des-cbc", `
			local crypto = require('@lmb/crypto')
			local key, iv = '01234567', 'abcdefgh'
			local secret = 'attack at dawn'
			return crypto.decrypt('des-cbc', crypto.encrypt('des-cbc', secret, key, iv), key, iv) == secret
		`},
		{"des-ecb", `
			local crypto = require('@lmb/crypto')
			local key = '01234567'
			local secret = 'attack at dawn'
			return crypto.decrypt('des-ecb', crypto.encrypt('des-ecb', secret, key), key) == secret
		`},
		{"base64 binary", `
			local crypto = require('@lmb/crypto')
			local blob = string.char(0, 1, 2, 255, 254)
			return crypto.base64_decode(crypto.base64_encode(blob)) == blob
		`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := mustRun(t, test.script, Options{}); !got.Bool() {
				t.Error("round-trip failed")
			}
		})
	}
}

func TestCryptoParamErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"unknown cipher", `return require('@lmb/crypto').encrypt('rot13', 'x', 'k')`},
		{"unknown hmac hash", `return require('@lmb/crypto').hmac('md4', 'x', 'k')`},
		{"short aes key", `return require('@lmb/crypto').encrypt('aes-cbc', 'x', 'short', '0123456701234567')`},
		{"short iv", `return require('@lmb/crypto').encrypt('aes-cbc', 'x', '0123456701234567', 'short')`},
		{"short des key", `return require('@lmb/crypto').encrypt('des-cbc', 'x', 'tiny', 'abcdefgh')`},
		{"non-hex ciphertext", `return require('@lmb/crypto').decrypt('aes-cbc', 'zz', '0123456701234567', '0123456701234567')`},
		{"bad base64", `return require('@lmb/crypto').base64_decode('!!!')`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := run(t, test.script, Options{})
			if lmb.KindOf(err) != lmb.KindCryptoParam {
				t.Errorf("error = %v; want crypto_param", err)
			}
		})
	}
}
