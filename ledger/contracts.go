package ledger

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed abi/*.json
var abiFS embed.FS

// ContractID names one of the fixed contracts the gateway talks to.
type ContractID string

const (
	Token            ContractID = "token"
	Vault            ContractID = "vault"
	LoanRegistry     ContractID = "loan_registry"
	PaymentCollector ContractID = "payment_collector"
)

// Contracts holds the deployed addresses of the four contracts.
type Contracts struct {
	Token            common.Address
	Vault            common.Address
	LoanRegistry     common.Address
	PaymentCollector common.Address
}

// Address returns the configured address for id.
func (c Contracts) Address(id ContractID) (common.Address, error) {
	var addr common.Address
	switch id {
	case Token:
		addr = c.Token
	case Vault:
		addr = c.Vault
	case LoanRegistry:
		addr = c.LoanRegistry
	case PaymentCollector:
		addr = c.PaymentCollector
	default:
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s has no address", ErrUnknownContract, id)
	}
	return addr, nil
}

type binding struct {
	address common.Address
	abi     abi.ABI
}

func loadABIs() (map[ContractID]abi.ABI, error) {
	files := map[ContractID]string{
		Token:            "abi/token.json",
		Vault:            "abi/vault.json",
		LoanRegistry:     "abi/loan_registry.json",
		PaymentCollector: "abi/payment_collector.json",
	}
	out := make(map[ContractID]abi.ABI, len(files))
	for id, path := range files {
		raw, err := abiFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s abi: %w", id, err)
		}
		parsed, err := abi.JSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse %s abi: %w", id, err)
		}
		out[id] = parsed
	}
	return out, nil
}

// ABI returns the parsed ABI for id.
func ABI(id ContractID) (abi.ABI, error) {
	abis, err := loadABIs()
	if err != nil {
		return abi.ABI{}, err
	}
	parsed, ok := abis[id]
	if !ok {
		return abi.ABI{}, fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	return parsed, nil
}
