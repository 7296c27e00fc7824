package witness

import (
	"errors"

	"github.com/roach88/meminstrument/internal/itarget"
)

// ContractError is the panic value for violated engine contracts.
type ContractError = itarget.ContractError

// AsContractError extracts a ContractError from a recovered panic value.
func AsContractError(r any) (*ContractError, bool) {
	err, ok := r.(error)
	if !ok {
		return nil, false
	}
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
