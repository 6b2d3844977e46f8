package main

import (
	"errors"
	"fmt"

	"collab-session/backend/internal/collabclient"
)

func errorsIsUnauthorized(err error) bool {
	return errors.Is(err, collabclient.ErrUnauthorized)
}

// describe 把接口错误转成给人看的提示
func describe(err error) error {
	var lc *collabclient.LockConflictError
	var vc *collabclient.VersionConflictError
	switch {
	case errors.As(err, &lc):
		return fmt.Errorf("document %s is being edited by %s", lc.DocumentID, lc.Holder)
	case errors.As(err, &vc):
		return fmt.Errorf("document %s was modified (your version %d, current %d), reload and retry", vc.DocumentID, vc.Expected, vc.Current)
	case errors.Is(err, collabclient.ErrNotHolder):
		return fmt.Errorf("you do not hold the edit lock, run 'session-client lock' first")
	case errors.Is(err, collabclient.ErrNotFound):
		return fmt.Errorf("not found")
	}
	return err
}
