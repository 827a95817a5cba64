package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// Hyperliquid L1 actions are authorised by signing a phantom "agent" struct
// whose connectionId commits to the msgpack-encoded action and nonce. The
// EIP-712 domain is fixed regardless of the real chain.
const (
	signingChainID     = 1337
	agentSourceMainnet = "a"
	agentSourceTestnet = "b"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Agent(string source,bytes32 connectionId)
	agentTypeHash = ethcrypto.Keccak256(
		[]byte("Agent(string source,bytes32 connectionId)"),
	)
)

// signer signs Hyperliquid exchange actions with a secp256k1 key.
type signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	source     string
	domainSep  []byte
}

// newSigner creates a signer from a hex-encoded private key.
func newSigner(privateKeyHex string, testnet bool) (*signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: invalid private key: %w", err)
	}

	source := agentSourceMainnet
	if testnet {
		source = agentSourceTestnet
	}

	s := &signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		source:     source,
	}
	s.domainSep = buildDomainSeparator()
	return s, nil
}

// Address returns the address derived from the signing key.
func (s *signer) Address() common.Address {
	return s.address
}

// SignAction hashes the action with the nonce and signs the resulting agent
// struct, returning the r/s/v signature the exchange endpoint expects.
func (s *signer) SignAction(action any, nonce int64) (rsvSignature, error) {
	connectionID, err := actionHash(action, nonce)
	if err != nil {
		return rsvSignature{}, err
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			agentTypeHash,
			ethcrypto.Keccak256([]byte(s.source)),
			connectionID,
		),
	)

	digest := ethcrypto.Keccak256(
		concatBytes([]byte{0x19, 0x01}, s.domainSep, structHash),
	)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return rsvSignature{}, fmt.Errorf("hyperliquid: sign action: %w", err)
	}

	return rsvSignature{
		R: "0x" + hex.EncodeToString(sig[:32]),
		S: "0x" + hex.EncodeToString(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}

// actionHash computes keccak256(msgpack(action) || nonce_be64 || 0x00). The
// trailing byte flags the absence of a vault address.
func actionHash(action any, nonce int64) ([]byte, error) {
	packed, err := msgpack.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: encode action: %w", err)
	}

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))

	return ethcrypto.Keccak256(
		concatBytes(packed, nonceBytes[:], []byte{0x00}),
	), nil
}

// buildDomainSeparator hashes the fixed Exchange signing domain: name
// "Exchange", version "1", chainId 1337, zero verifying contract.
func buildDomainSeparator() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte("Exchange")),
			ethcrypto.Keccak256([]byte("1")),
			bigIntTo32Bytes(big.NewInt(signingChainID)),
			common.LeftPadBytes(common.Address{}.Bytes(), 32),
		),
	)
}

func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
