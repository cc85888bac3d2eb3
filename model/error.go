package model

import (
	"errors"
	"fmt"
)

// Kind classifies a failure in a machine-readable way, independent of the
// component that produced it.
type Kind string

const (
	KindInvalidURL              Kind = "invalid_url"
	KindUnsupportedPlatform     Kind = "unsupported_platform"
	KindDependencyUnavailable   Kind = "dependency_unavailable"
	KindDownloadFailed          Kind = "download_failed"
	KindFileTooLarge            Kind = "file_too_large"
	KindUnsupportedFormat       Kind = "unsupported_format"
	KindInvalidCredentials      Kind = "invalid_credentials"
	KindEngineQuotaExceeded     Kind = "engine_quota_exceeded"
	KindTimeout                 Kind = "timeout"
	KindQuotaExceeded           Kind = "quota_exceeded"
	KindDurationExceeded        Kind = "duration_exceeded"
	KindTranscriptionFailed     Kind = "transcription_failed"
	KindUnsupportedExportFormat Kind = "unsupported_export_format"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in the wrap chain, or the
// empty kind when there is none.
func KindOf(err error) Kind {
	var mErr *Error
	if errors.As(err, &mErr) {
		return mErr.Kind
	}

	return Kind("")
}
