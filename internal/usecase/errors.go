package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrSource     = errors.New("question source error")
	ErrRepository = errors.New("repository error")
)

func wrapSource(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrSource, err)
}

func wrapRepo(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRepository, err)
}
