package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const scheme = "argon2id"

// params are the Argon2id cost settings encoded into every hash.
type params struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}

var current = params{memory: 64 * 1024, time: 1, threads: 4, keyLen: 32}

const saltLen = 16

var errMalformed = errors.New("malformed_password_hash")

// Hash returns an encoded Argon2id hash with a random salt.
func Hash(plain string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := derive(plain, salt, current)
	return encode(current, salt, key), nil
}

// Verify reports whether plain matches the encoded hash. Malformed hashes never match.
func Verify(plain, encoded string) bool {
	p, salt, key, err := decode(encoded)
	if err != nil {
		return false
	}
	p.keyLen = uint32(len(key))
	return subtle.ConstantTimeCompare(key, derive(plain, salt, p)) == 1
}

func derive(plain string, salt []byte, p params) []byte {
	return argon2.IDKey([]byte(plain), salt, p.time, p.memory, p.threads, p.keyLen)
}

func encode(p params, salt, key []byte) string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		scheme, argon2.Version, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

// decode splits "$argon2id$v=19$m=..,t=..,p=..$salt$key".
func decode(encoded string) (params, []byte, []byte, error) {
	var p params
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != scheme {
		return p, nil, nil, errMalformed
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, errMalformed
	}
	if n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil || n != 3 {
		return p, nil, nil, errMalformed
	}

	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, errMalformed
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, errMalformed
	}
	return p, salt, key, nil
}
