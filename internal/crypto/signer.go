package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ClobAuth EIP-712 domain parameters, fixed by the Polymarket CLOB.
const (
	clobAuthDomainName    = "ClobAuthDomain"
	clobAuthDomainVersion = "1"
)

// Pre-computed keccak256 of the canonical EIP-712 type strings.
var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)
)

// Signer signs ClobAuth messages, the EIP-712 handshake the Polymarket CLOB
// uses to derive API credentials from a wallet.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID (137 for Polygon mainnet, 80002 for Amoy testnet).
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		domainSep:  domainSeparator(chainID),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs a ClobAuth message for the given wallet address,
// timestamp, and nonce. The returned string is a hex-encoded 65-byte
// signature (r || s || v) with v in {27, 28}.
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	addr := common.HexToAddress(address)

	structHash := ethcrypto.Keccak256(concatBytes(
		clobAuthTypeHash,
		common.LeftPadBytes(addr.Bytes(), 32),
		bigIntTo32Bytes(big.NewInt(timestamp)),
		bigIntTo32Bytes(big.NewInt(nonce)),
	))

	sig, err := ethcrypto.Sign(eip712Hash(s.domainSep, structHash), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 verifiers expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// domainSeparator hashes the ClobAuth EIP-712 domain for the given chain:
// keccak256(typeHash || keccak256(name) || keccak256(version) || chainId).
func domainSeparator(chainID int) []byte {
	return ethcrypto.Keccak256(concatBytes(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(clobAuthDomainName)),
		ethcrypto.Keccak256([]byte(clobAuthDomainVersion)),
		bigIntTo32Bytes(big.NewInt(int64(chainID))),
	))
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes(
		[]byte{0x19, 0x01},
		domainSep,
		structHash,
	))
}

// bigIntTo32Bytes returns the 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.BigToHash(n).Bytes()
}

func concatBytes(parts ...[]byte) []byte {
	return slices.Concat(parts...)
}
