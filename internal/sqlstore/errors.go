package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/rpggio/tasksync/internal/repository"
)

func requireClientID(clientID string) error {
	if clientID == "" {
		return fmt.Errorf("%w: client id is required", repository.ErrInvalidInput)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
