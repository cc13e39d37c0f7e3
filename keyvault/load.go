package keyvault

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/tos-network/gyield/core"
)

// Environment variables carrying executor keys, per chain family.
const (
	EnvMasterSecret = "WALLET_ENCRYPTION_KEY"
	EnvEvmKey       = "EXECUTOR_EVM_PRIVATE_KEY"
	EnvEvmMnemonic  = "EXECUTOR_EVM_MNEMONIC"
	EnvAptosKey     = "EXECUTOR_APTOS_PRIVATE_KEY"
	EnvSolanaKey    = "EXECUTOR_SOLANA_PRIVATE_KEY"
)

var (
	ErrBadEvmKey     = errors.New("keyvault: invalid EVM private key")
	ErrBadSolanaKey  = errors.New("keyvault: invalid Solana private key")
	ErrBadMnemonic   = errors.New("keyvault: invalid BIP-39 mnemonic")
)

// LoadFromEnv pulls every configured executor key into the vault cache.
// A family with no key simply stays unloaded; its chains run in
// pending-signature mode.
func (v *Vault) LoadFromEnv() error {
	if raw, ok := GetSecret(EnvEvmKey); ok {
		key, err := NormalizeEvmKey(raw)
		if err != nil {
			return err
		}
		v.LoadInto(core.FamilyEVM, key)
	} else if mnemonic, ok := GetSecret(EnvEvmMnemonic); ok {
		key, err := EvmKeyFromMnemonic(mnemonic)
		if err != nil {
			return err
		}
		v.LoadInto(core.FamilyEVM, key)
	}
	if raw, ok := GetSecret(EnvSolanaKey); ok {
		if _, err := base58.Decode(raw); err != nil {
			return ErrBadSolanaKey
		}
		v.LoadInto(core.FamilySolana, raw)
	}
	if raw, ok := GetSecret(EnvAptosKey); ok {
		v.LoadInto(core.FamilyAptos, strings.TrimPrefix(raw, "0x"))
	}
	return nil
}

// NormalizeEvmKey validates a hex secp256k1 key and returns it without the
// 0x prefix.
func NormalizeEvmKey(raw string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if _, err := crypto.HexToECDSA(trimmed); err != nil {
		return "", ErrBadEvmKey
	}
	return trimmed, nil
}

// EvmKeyFromMnemonic derives the first account key from a BIP-39 mnemonic.
// Derivation walks the BIP-32 hardened path m/44'/60'/0'/0/0 over the
// HMAC-SHA512 chain.
func EvmKeyFromMnemonic(mnemonic string) (string, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", ErrBadMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")
	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chain := sum[:32], sum[32:]
	for _, idx := range []uint32{0x8000002C, 0x8000003C, 0x80000000, 0, 0} {
		key, chain = deriveChild(key, chain, idx)
	}
	hexKey := hex.EncodeToString(key)
	if _, err := crypto.HexToECDSA(hexKey); err != nil {
		return "", ErrBadMnemonic
	}
	return hexKey, nil
}

func deriveChild(key, chain []byte, idx uint32) ([]byte, []byte) {
	var data []byte
	if idx >= 0x80000000 {
		data = append([]byte{0}, key...)
	} else {
		priv, err := crypto.ToECDSA(key)
		if err != nil {
			return key, chain
		}
		data = crypto.CompressPubkey(&priv.PublicKey)
	}
	data = append(data, byte(idx>>24), byte(idx>>16), byte(idx>>8), byte(idx))
	mac := hmac.New(sha512.New, chain)
	mac.Write(data)
	sum := mac.Sum(nil)
	childKey := addModN(sum[:32], key)
	return childKey, sum[32:]
}

// addModN adds two scalars modulo the secp256k1 group order.
func addModN(a, b []byte) []byte {
	n := crypto.S256().Params().N
	sum := new(big.Int).Add(new(big.Int).SetBytes(a), new(big.Int).SetBytes(b))
	sum.Mod(sum, n)
	out := make([]byte, 32)
	sum.FillBytes(out)
	return out
}
