package service

import (
	"context"

	"payment-orchestrator/config"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/pkg/apperror"
)

// StaticBankLookup implements ports.BankLookup from a config-seeded table.
// The lookup is an external collaborator boundary; this implementation is
// deliberately minimal.
type StaticBankLookup struct {
	banks map[string]ports.Bank
}

// NewStaticBankLookup builds the lookup table from configuration.
func NewStaticBankLookup(entries []config.BankConfig) *StaticBankLookup {
	banks := make(map[string]ports.Bank, len(entries))
	for _, e := range entries {
		banks[e.Code] = ports.Bank{Code: e.Code, Name: e.Name, Paybill: e.Paybill}
	}
	return &StaticBankLookup{banks: banks}
}

// Resolve maps a bank routing code to its paybill entry.
func (l *StaticBankLookup) Resolve(_ context.Context, bankCode string) (*ports.Bank, error) {
	bank, ok := l.banks[bankCode]
	if !ok {
		return nil, apperror.ErrUnknownBank(bankCode)
	}
	return &bank, nil
}
