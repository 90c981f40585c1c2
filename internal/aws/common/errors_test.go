package common

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"labctl/internal/lab"
)

func apiError(code string) error {
	return awserr.New(code, "test", nil)
}

func TestErrorClasses(t *testing.T) {
	assert.True(t, IsNotFound(apiError("InvalidVpcID.NotFound")))
	assert.True(t, IsNotFound(errors.Wrap(apiError("LoadBalancerNotFound"), "deleting")))
	assert.False(t, IsNotFound(apiError("DependencyViolation")))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(errors.New("InvalidVpcID.NotFound")))

	assert.True(t, IsAlreadyExists(apiError("RouteAlreadyExists")))
	assert.True(t, IsAlreadyExists(apiError("InvalidPermission.Duplicate")))
	assert.True(t, IsRetryable(apiError("DependencyViolation")))
	assert.True(t, IsRetryable(apiError("WAFAssociatedItemException")))

	assert.Equal(t, "IncorrectState", ErrorCode(errors.Wrap(apiError("IncorrectState"), "tgw")))
	assert.Empty(t, ErrorCode(errors.New("plain")))
}

func TestIgnoreHelpers(t *testing.T) {
	assert.NoError(t, IgnoreNotFound(apiError("InvalidSubnetID.NotFound")))
	assert.Error(t, IgnoreNotFound(apiError("DependencyViolation")))
	assert.NoError(t, IgnoreAlreadyExists(apiError("NetworkAclEntryAlreadyExists")))
	assert.Error(t, IgnoreAlreadyExists(apiError("InvalidParameterValue")))
}

func TestDeleteWithRetry(t *testing.T) {
	poller := lab.Poller{Attempts: 5}

	calls := 0
	err := DeleteWithRetry(context.Background(), poller, "subnet", func() error {
		calls++
		if calls < 3 {
			return apiError("DependencyViolation")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = DeleteWithRetry(context.Background(), poller, "subnet", func() error {
		return apiError("InvalidSubnetID.NotFound")
	})
	assert.NoError(t, err)

	calls = 0
	err = DeleteWithRetry(context.Background(), poller, "subnet", func() error {
		calls++
		return apiError("UnauthorizedOperation")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "UnauthorizedOperation", ErrorCode(err))

	err = DeleteWithRetry(context.Background(), poller, "vpc", func() error {
		return apiError("DependencyViolation")
	})
	assert.True(t, errors.Is(err, lab.ErrWaitTimeout))
}

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk(nil, 3))
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, Chunk([]string{"a", "b", "c", "d", "e"}, 2))
	assert.Equal(t, [][]string{{"a"}}, Chunk([]string{"a"}, 5))
	assert.True(t, Contains([]string{"x", "y"}, "y"))
	assert.False(t, Contains(nil, "y"))
}
