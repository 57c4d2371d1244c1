package notes

import (
	"fmt"

	"github.com/google/uuid"
)

// IDProviderFunc adapts a plain function to IDProvider.
type IDProviderFunc func() (string, error)

func (f IDProviderFunc) NewID() (string, error) {
	return f()
}

// NewUUIDProvider issues time-ordered UUIDv7 note identifiers, so ids sort in creation order.
func NewUUIDProvider() IDProvider {
	return IDProviderFunc(func() (string, error) {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate note id: %w", err)
		}
		return id.String(), nil
	})
}
