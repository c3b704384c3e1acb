package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Bet(uint256 marketId,bytes32 encryptedOption,bytes32 encryptedAmount,bytes32 proofHash,uint256 value,uint256 nonce)
	betTypeHash = ethcrypto.Keccak256(
		[]byte("Bet(uint256 marketId,bytes32 encryptedOption,bytes32 encryptedAmount,bytes32 proofHash,uint256 value,uint256 nonce)"),
	)

	// MarketOp(string kind,uint256 marketId,bytes32 paramsHash,uint256 value,uint256 nonce)
	marketOpTypeHash = ethcrypto.Keccak256(
		[]byte("MarketOp(string kind,uint256 marketId,bytes32 paramsHash,uint256 value,uint256 nonce)"),
	)
)

// Signer signs bet submissions and market operations with a secp256k1 key.
// Signatures are EIP-712 digests over a VeilMarket domain separator so an
// envelope signed for one chain cannot be replayed on another.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and the
// target chain ID (11155111 for Sepolia).
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domainSep = buildDomainSeparator("VeilMarket", "1", chainID)

	return s, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignBet computes the bet submission digest and stores the 65-byte signature
// on the submission.
func (s *Signer) SignBet(sub *domain.BetSubmission) error {
	sig, err := s.signDigest(BetDigest(*sub, s.chainID))
	if err != nil {
		return err
	}
	sub.Signature = sig
	return nil
}

// SignOp computes the market operation digest and stores the 65-byte
// signature on the envelope.
func (s *Signer) SignOp(op *domain.MarketOp) error {
	sig, err := s.signDigest(OpDigest(*op, s.chainID))
	if err != nil {
		return err
	}
	op.Signature = sig
	return nil
}

// RecoverBettor recovers the bettor address from a signed bet submission.
func RecoverBettor(sub domain.BetSubmission, chainID int) (common.Address, error) {
	return recoverAddress(BetDigest(sub, chainID), sub.Signature)
}

// RecoverCaller recovers the caller address from a signed market operation.
func RecoverCaller(op domain.MarketOp, chainID int) (common.Address, error) {
	return recoverAddress(OpDigest(op, chainID), op.Signature)
}

// BetDigest returns the EIP-712 digest a bettor signs for a submission. The
// proof is folded in as keccak256(proof) so the digest stays fixed-size.
func BetDigest(sub domain.BetSubmission, chainID int) []byte {
	value := sub.Value
	if value == nil {
		value = big.NewInt(0)
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			betTypeHash,
			bigIntTo32Bytes(new(big.Int).SetUint64(sub.MarketID)),
			sub.OptionHandle[:],
			sub.AmountHandle[:],
			ethcrypto.Keccak256(sub.Proof),
			bigIntTo32Bytes(value),
			bigIntTo32Bytes(new(big.Int).SetUint64(sub.Nonce)),
		),
	)

	return eip712Hash(buildDomainSeparator("VeilMarket", "1", chainID), structHash)
}

// OpDigest returns the EIP-712 digest for a market operation envelope.
func OpDigest(op domain.MarketOp, chainID int) []byte {
	value := op.Value
	if value == nil {
		value = big.NewInt(0)
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			marketOpTypeHash,
			ethcrypto.Keccak256([]byte(op.Kind)),
			bigIntTo32Bytes(new(big.Int).SetUint64(op.MarketID)),
			opParamsHash(op),
			bigIntTo32Bytes(value),
			bigIntTo32Bytes(new(big.Int).SetUint64(op.Nonce)),
		),
	)

	return eip712Hash(buildDomainSeparator("VeilMarket", "1", chainID), structHash)
}

// opParamsHash folds the per-operation parameters into a single 32-byte hash
// with a deterministic encoding. Options are joined with a unit separator so
// ["ab","c"] and ["a","bc"] hash differently.
func opParamsHash(op domain.MarketOp) []byte {
	minBet := op.MinBet
	if minBet == nil {
		minBet = big.NewInt(0)
	}
	maxBet := op.MaxBet
	if maxBet == nil {
		maxBet = big.NewInt(0)
	}

	return ethcrypto.Keccak256(
		concatBytes(
			ethcrypto.Keccak256([]byte(op.Question)),
			ethcrypto.Keccak256([]byte(strings.Join(op.Options, "\x1f"))),
			bigIntTo32Bytes(big.NewInt(op.EndTime)),
			bigIntTo32Bytes(minBet),
			bigIntTo32Bytes(maxBet),
			common.LeftPadBytes(common.HexToAddress(op.NewOracle).Bytes(), 32),
			bigIntTo32Bytes(big.NewInt(int64(op.WinningOption))),
			ethcrypto.Keccak256([]byte(op.Reason)),
		),
	)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the raw
// signature (r || s || v, 65 bytes) with v in {27,28}.
func (s *Signer) signDigest(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; the wire format carries v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// recoverAddress returns the address whose key produced the given signature
// over digest. Accepts v in {0,1} or {27,28}.
func recoverAddress(digest, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: %w: expected 65 bytes, got %d",
			domain.ErrInvalidSignature, len(signature))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: %w: %v", domain.ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
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
