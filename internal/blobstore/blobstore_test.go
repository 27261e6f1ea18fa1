package blobstore

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"

	"github.com/cuemby/crdtd/internal/apperr"
)

func TestClassifyGetErrNotFoundForMissingKey(t *testing.T) {
	err := classifyGetErr(minio.ErrorResponse{Code: "NoSuchKey", Message: "object does not exist"})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestClassifyGetErrNotFoundForMissingBucket(t *testing.T) {
	err := classifyGetErr(minio.ErrorResponse{Code: "NoSuchBucket", Message: "bucket does not exist"})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestClassifyGetErrTransientForOtherFailures(t *testing.T) {
	err := classifyGetErr(errors.New("connection reset by peer"))
	assert.Equal(t, apperr.Transient, apperr.KindOf(err))
}

func TestClassifyGetErrTransientForAccessDenied(t *testing.T) {
	err := classifyGetErr(minio.ErrorResponse{Code: "AccessDenied", Message: "denied"})
	assert.Equal(t, apperr.Transient, apperr.KindOf(err))
}
