// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonCodeString(t *testing.T) {
	tests := []struct {
		code ReasonCode
		want string
	}{
		{ReasonSuccess, "success"},
		{ReasonGrantedQoS1, "granted QoS 1"},
		{ReasonNotAuthorized, "not authorized"},
		{ReasonBadCredentials, "bad username or password"},
		{ReasonSharedSubsUnsupported, "shared subscriptions not supported"},
		{ReasonCode(0xA2), "reason code 0xA2"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.String())
	}
}

func TestReasonCodeFailed(t *testing.T) {
	assert.False(t, ReasonSuccess.Failed())
	assert.False(t, ReasonGrantedQoS1.Failed())
	assert.False(t, ReasonNoSubscriptionExisted.Failed())
	assert.True(t, ReasonUnspecified.Failed())
	assert.True(t, ReasonTopicFilterInvalid.Failed())
}

func TestReasonError(t *testing.T) {
	err := fmt.Errorf("worker 3: %w", &ReasonError{Op: "subscribe a/b", Code: ReasonNotAuthorized, Err: ErrSubscribeFailed})

	assert.True(t, errors.Is(err, ErrSubscribeFailed))
	assert.True(t, IsProtocolError(err))
	assert.Contains(t, err.Error(), "not authorized")

	var re *ReasonError
	assert.True(t, errors.As(err, &re))
	assert.Equal(t, ReasonNotAuthorized, re.Code)

	assert.False(t, IsProtocolError(ErrTimeout))
}

func TestConnackReason(t *testing.T) {
	assert.Equal(t, ReasonUnsupportedProtocol, connackReason(1))
	assert.Equal(t, ReasonClientIDInvalid, connackReason(2))
	assert.Equal(t, ReasonServerUnavailable, connackReason(3))
	assert.Equal(t, ReasonBadCredentials, connackReason(4))
	assert.Equal(t, ReasonNotAuthorized, connackReason(5))
	assert.Equal(t, ReasonUnspecified, connackReason(9))
}
