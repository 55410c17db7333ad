// Package cryptox holds the symmetric primitives of the vault: AES-256-GCM
// sealing into EncryptedBlob values, the blob wire format, and the argon2id
// key derivation used for both the system key and per-user master keys.
//
// Every function here is a pure transformation over its inputs and is safe
// for concurrent use.
package cryptox
