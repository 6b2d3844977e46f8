package collabclient

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized    = errors.New("UNAUTHORIZED")
	ErrNotHolder       = errors.New("NOT_LOCK_HOLDER")
	ErrLockConflict    = errors.New("LOCK_CONFLICT")
	ErrVersionConflict = errors.New("VERSION_CONFLICT")
	ErrNotFound        = errors.New("NOT_FOUND")
)

// LockConflictError 文档被其他人锁住
type LockConflictError struct {
	DocumentID string
	Holder     string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("document %s is locked by %s", e.DocumentID, e.Holder)
}

func (e *LockConflictError) Is(target error) bool { return target == ErrLockConflict }

// VersionConflictError 提交时的版本已经过期
type VersionConflictError struct {
	DocumentID string
	Expected   uint64
	Current    uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("document %s version conflict: expected %d, current %d", e.DocumentID, e.Expected, e.Current)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// StatusError 其他非 2xx 响应
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}
