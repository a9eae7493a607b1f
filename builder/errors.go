package builder

import (
	"fmt"
)

// Stage names a step of the build pipeline.
type Stage string

const (
	StageDefaults     Stage = "defaults"
	StageNonce        Stage = "nonce"
	StageGasPrice     Stage = "gasPrice"
	StageGasLimits    Stage = "gasLimits"
	StageGasOverrides Stage = "gasOverrides"
	StageSignature    Stage = "signature"
	StageValidate     Stage = "validate"
	StageCallData     Stage = "callData"
)

type builderError string

func (e builderError) Error() string {
	return string(e)
}

const (
	ErrNoSigner              builderError = "builder: signer is not configured"
	ErrNoProvider            builderError = "builder: provider is not configured"
	ErrNoBundler             builderError = "builder: bundler is not configured"
	ErrNoChainID             builderError = "builder: chain id is not configured"
	ErrNoSender              builderError = "builder: sender is the zero address"
	ErrNoPaymaster           builderError = "builder: sponsorship requested without a paymaster"
	ErrIncompleteSponsorship builderError = "paymaster response is missing gas limits"
	ErrNoInitCode            builderError = "account is not deployed and no initCode is known"
)

// BuildError reports the pipeline stage that aborted a build.
type BuildError struct {
	Stage Stage
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed at stage %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
