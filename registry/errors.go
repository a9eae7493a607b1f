package registry

type registryError string

func (e registryError) Error() string {
	return string(e)
}

const (
	ErrNotInitialized      registryError = "account registry is not initialized"
	ErrCreationInProgress  registryError = "account creation already in progress"
	ErrAccountNotFound     registryError = "account not found"
	ErrCannotHidePrimary   registryError = "the primary account cannot be hidden"
	ErrLastVisibleAccount  registryError = "at least one account must remain visible"
	ErrAccountHidden       registryError = "account is hidden"
	ErrEmptyName           registryError = "account name must not be empty"
	ErrInstanceUnavailable registryError = "account instance not available"
	ErrCorruptRecord       registryError = "persisted account record is invalid"
)
