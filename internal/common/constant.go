package common

// KeySize is the length in bytes of every symmetric key in the vault.
const KeySize = 32

// VaultServiceName is the name the vault reports under in gRPC health checks.
const VaultServiceName = "vaultcore.Vault"
