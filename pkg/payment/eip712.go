package payment

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	mathhex "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// chainIDs maps supported network names to their EVM chain identifiers.
var chainIDs = map[string]int64{
	"base":            8453,
	"base-sepolia":    84532,
	"avalanche":       43114,
	"avalanche-fuji":  43113,
	"polygon":         137,
	"polygon-mumbai":  80001,
	"ethereum":        1,
	"ethereum-sepolia": 11155111,
}

// ChainID resolves a network name to its chain identifier.
func ChainID(network string) (int64, error) {
	id, ok := chainIDs[strings.ToLower(strings.TrimSpace(network))]
	if !ok {
		return 0, fmt.Errorf("payment: unknown network %q", network)
	}
	return id, nil
}

// AuthorizationDigest computes the EIP-712 digest of an ERC-3009
// TransferWithAuthorization message against the token's signing domain.
func AuthorizationDigest(auth Authorization, reqs Requirements) ([]byte, error) {
	chainID, err := ChainID(reqs.Network)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(reqs.Asset) {
		return nil, fmt.Errorf("payment: invalid asset address %q", reqs.Asset)
	}
	if !common.IsHexAddress(auth.From) || !common.IsHexAddress(auth.To) {
		return nil, fmt.Errorf("payment: invalid authorization addresses")
	}

	value, err := ParseAmount(auth.Value)
	if err != nil {
		return nil, err
	}
	validAfter, err := parseTimestamp(auth.ValidAfter)
	if err != nil {
		return nil, fmt.Errorf("payment: validAfter: %w", err)
	}
	validBefore, err := parseTimestamp(auth.ValidBefore)
	if err != nil {
		return nil, fmt.Errorf("payment: validBefore: %w", err)
	}
	nonce, err := hexutil.Decode(auth.Nonce)
	if err != nil || len(nonce) != 32 {
		return nil, fmt.Errorf("payment: nonce must be 32 hex bytes")
	}

	domainName, domainVersion := "USD Coin", "2"
	if reqs.Extra != nil {
		if reqs.Extra.Name != "" {
			domainName = reqs.Extra.Name
		}
		if reqs.Extra.Version != "" {
			domainVersion = reqs.Extra.Version
		}
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           mathhex.NewHexOrDecimal256(chainID),
			VerifyingContract: common.HexToAddress(reqs.Asset).Hex(),
		},
		Message: map[string]interface{}{
			"from":        common.HexToAddress(auth.From).Hex(),
			"to":          common.HexToAddress(auth.To).Hex(),
			"value":       value,
			"validAfter":  validAfter,
			"validBefore": validBefore,
			"nonce":       nonce,
		},
	}
	return typedDataHash(typedData)
}

// RecoverSigner recovers the address that signed an authorization. The
// signature is 65 bytes r||s||v with v in {0, 1, 27, 28}.
func RecoverSigner(auth Authorization, reqs Requirements, signature string) (common.Address, error) {
	digest, err := AuthorizationDigest(auth, reqs)
	if err != nil {
		return common.Address{}, err
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("payment: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("payment: expected 65-byte signature, got %d", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("payment: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func parseTimestamp(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid timestamp %q", s)
	}
	return v, nil
}

func typedDataHash(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("payment: hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("payment: hash message: %w", err)
	}
	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}
