package common

import (
	"context"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/aws/aws-sdk-go/service/wafv2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"labctl/internal/lab"
)

var notFoundCodes = []string{
	"InvalidVpcID.NotFound",
	"InvalidSubnetID.NotFound",
	"InvalidInternetGatewayID.NotFound",
	"InvalidRouteTableID.NotFound",
	"InvalidRoute.NotFound",
	"InvalidGroup.NotFound",
	"InvalidPermission.NotFound",
	"InvalidNetworkAclID.NotFound",
	"InvalidInstanceID.NotFound",
	"NatGatewayNotFound",
	"InvalidNatGatewayID.NotFound",
	"InvalidAllocationID.NotFound",
	"InvalidAssociationID.NotFound",
	"InvalidTransitGatewayID.NotFound",
	"InvalidTransitGatewayAttachmentID.NotFound",
	"InvalidVpcPeeringConnectionID.NotFound",
	"InvalidVpcPeeringConnectionId.NotFound",
	"Gateway.NotAttached",
	elbv2.ErrCodeLoadBalancerNotFoundException,
	elbv2.ErrCodeTargetGroupNotFoundException,
	elbv2.ErrCodeListenerNotFoundException,
	wafv2.ErrCodeWAFNonexistentItemException,
	route53.ErrCodeNoSuchHostedZone,
}

var alreadyExistsCodes = []string{
	"RouteAlreadyExists",
	"InvalidPermission.Duplicate",
	"NetworkAclEntryAlreadyExists",
	"Resource.AlreadyAssociated",
	"InvalidGroup.Duplicate",
}

// retryableCodes are returned while another resource still depends on the
// one being deleted. They clear once the dependent resource is gone.
var retryableCodes = []string{
	"DependencyViolation",
	"IncorrectState",
	"InvalidTransitGatewayAttachmentID.Pending",
	elbv2.ErrCodeResourceInUseException,
	wafv2.ErrCodeWAFAssociatedItemException,
	wafv2.ErrCodeWAFOptimisticLockException,
	wafv2.ErrCodeWAFUnavailableEntityException,
}

func ErrorCode(err error) string {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code()
	}
	return ""
}

func HasCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	return Contains(codes, ErrorCode(err))
}

func IsNotFound(err error) bool {
	return HasCode(err, notFoundCodes...)
}

func IsAlreadyExists(err error) bool {
	return HasCode(err, alreadyExistsCodes...)
}

func IsRetryable(err error) bool {
	return HasCode(err, retryableCodes...)
}

// IgnoreNotFound treats an absent resource as successfully deleted.
func IgnoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}

func IgnoreAlreadyExists(err error) error {
	if IsAlreadyExists(err) {
		log.Debug().Msgf("ignoring %s", ErrorCode(err))
		return nil
	}
	return err
}

// DeleteWithRetry repeats a delete call while the provider reports that the
// resource is still in use.
func DeleteWithRetry(ctx context.Context, poller lab.Poller, what string, deleteFn func() error) error {
	return poller.WaitFor(ctx, what, func() (bool, error) {
		err := deleteFn()
		if err == nil || IsNotFound(err) {
			return true, nil
		}
		if IsRetryable(err) {
			log.Debug().Msgf("%s: %s, retrying", what, ErrorCode(err))
			return false, nil
		}
		return false, err
	})
}
