package memstore

import "fmt"

func errVersion(v int) error {
	return fmt.Errorf("version must be >= 1, got %d", v)
}

func errVersionTaken(v int) error {
	return fmt.Errorf("version %d already exists", v)
}
