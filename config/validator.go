package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/blndgs/aawallet/builder"
	"github.com/blndgs/aawallet/storage"
	"github.com/blndgs/aawallet/units"
)

// Custom validation for Ethereum address using go-playground validator.
func validEthAddress(fl validator.FieldLevel) bool {
	address := fl.Field().String()
	return common.IsHexAddress(address)
}

// validGasMode accepts automatic and manual.
func validGasMode(fl validator.FieldLevel) bool {
	switch builder.GasMode(fl.Field().String()) {
	case builder.GasModeAutomatic, builder.GasModeManual:
		return true
	default:
		return false
	}
}

func validPriorityLevel(fl validator.FieldLevel) bool {
	return builder.PriorityLevel(fl.Field().String()).Valid()
}

func validStoreEngine(fl validator.FieldLevel) bool {
	switch storage.Engine(fl.Field().String()) {
	case storage.EngineMemory, storage.EnginePebble, storage.EngineRedis:
		return true
	default:
		return false
	}
}

// validEtherAmount accepts a non-negative decimal ether amount with at most
// 18 decimals.
func validEtherAmount(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "0" {
		return true
	}
	_, err := units.ParseEther(value)
	return err == nil
}

var customValidations = map[string]validator.Func{
	"eth_addr":       validEthAddress,
	"gas_mode":       validGasMode,
	"priority_level": validPriorityLevel,
	"store_engine":   validStoreEngine,
	"ether_amount":   validEtherAmount,
}

func register(v *validator.Validate) error {
	for tag, fn := range customValidations {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register validator for %s: %w", tag, err)
		}
	}
	return nil
}

// NewValidator returns a validator with the wallet's custom tags.
func NewValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := register(v); err != nil {
		return nil, err
	}
	return v, nil
}

// RegisterBindingValidators installs the custom tags into gin's binding
// engine so request bodies can use them.
func RegisterBindingValidators() error {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		return register(v)
	}
	return nil
}
