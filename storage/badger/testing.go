package badger

// NewMemoryStore creates an in-memory Store for testing.
// Caller must close the store when done.
func NewMemoryStore() (*Store, error) {
	backend, err := OpenBackend("", true, nil)
	if err != nil {
		return nil, err
	}
	return NewStore(backend), nil
}
