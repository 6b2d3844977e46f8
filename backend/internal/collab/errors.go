package collab

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrLockConflict     = errors.New("LOCK_CONFLICT")
	ErrNotHolder        = errors.New("NOT_LOCK_HOLDER")
	ErrVersionConflict  = errors.New("VERSION_CONFLICT")
	ErrDocumentExists   = errors.New("DOCUMENT_EXISTS")
	ErrDocumentNotFound = errors.New("DOCUMENT_NOT_FOUND")
	ErrForbidden        = errors.New("FORBIDDEN")
)

// LockConflictError 文档已被他人锁定
type LockConflictError struct {
	DocumentID string
	Holder     string
	HolderName string
	ExpiresAt  time.Time
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("document %s is locked by %s", e.DocumentID, e.Holder)
}

func (e *LockConflictError) Is(target error) bool { return target == ErrLockConflict }

// VersionConflictError 提交基于的版本不是当前版本
type VersionConflictError struct {
	DocumentID string
	Expected   uint64
	Current    uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("document %s version conflict: expected %d, current %d", e.DocumentID, e.Expected, e.Current)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }
