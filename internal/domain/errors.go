package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to operators. Match them with errors.Is.
var (
	ErrNetworkReservationIPMissing          = errors.New("NetworkReservationIpMissing")
	ErrNetworkReservationAlreadyInUse       = errors.New("NetworkReservationAlreadyInUse")
	ErrNetworkReservationWrongType          = errors.New("NetworkReservationWrongType")
	ErrNetworkReservationError              = errors.New("NetworkReservationError")
	ErrNetworkReservationNotEnoughCapacity  = errors.New("NetworkReservationNotEnoughCapacity")
	ErrNetworkReservationIPOutsideSubnet    = errors.New("NetworkReservationIpOutsideSubnet")
	ErrNetworkReservationIPReserved         = errors.New("NetworkReservationIpReserved")
	ErrJobInvalidAvailabilityZone           = errors.New("JobInvalidAvailabilityZone")
	ErrJobUnknownNetwork                    = errors.New("JobUnknownNetwork")
	ErrJobNetworkInstanceIPMismatch         = errors.New("JobNetworkInstanceIpMismatch")
	ErrJobStaticIPsFromInvalidAZ            = errors.New("JobStaticIpsFromInvalidAvailabilityZone")
	ErrNetworkInvalidRange                  = errors.New("NetworkInvalidRange")
	ErrNetworkInvalidGateway                = errors.New("NetworkInvalidGateway")
	ErrNetworkReservedIPOutOfRange          = errors.New("NetworkReservedIpOutOfRange")
	ErrNetworkStaticIPOutOfRange            = errors.New("NetworkStaticIpOutOfRange")
	ErrNetworkSubnetUnknownAvailabilityZone = errors.New("NetworkSubnetUnknownAvailabilityZone")
	ErrNetworkInvalidProperty               = errors.New("NetworkInvalidProperty")
	ErrDeploymentIgnoredInstancesModified   = errors.New("DeploymentIgnoredInstancesModification")
	ErrDeploymentIgnoredInstancesDeletion   = errors.New("DeploymentIgnoredInstancesDeletion")
)

var errorCodes = map[error]int{
	ErrNetworkReservationIPMissing:          130005,
	ErrNetworkReservationAlreadyInUse:       130008,
	ErrNetworkReservationWrongType:          130009,
	ErrNetworkReservationError:              130010,
	ErrNetworkReservationNotEnoughCapacity:  130011,
	ErrNetworkReservationIPOutsideSubnet:    130012,
	ErrNetworkReservationIPReserved:         130013,
	ErrJobInvalidAvailabilityZone:           140016,
	ErrJobUnknownNetwork:                    150001,
	ErrJobNetworkInstanceIPMismatch:         150002,
	ErrJobStaticIPsFromInvalidAZ:            150007,
	ErrNetworkInvalidRange:                  160002,
	ErrNetworkInvalidGateway:                160003,
	ErrNetworkReservedIPOutOfRange:          160005,
	ErrNetworkStaticIPOutOfRange:            160006,
	ErrNetworkSubnetUnknownAvailabilityZone: 160007,
	ErrNetworkInvalidProperty:               160008,
	ErrDeploymentIgnoredInstancesModified:   190020,
	ErrDeploymentIgnoredInstancesDeletion:   190021,
}

// Error is a deployment-rejecting failure with a stable numeric code.
type Error struct {
	Kind    error
	Code    int
	Message string
}

// NewError builds an Error of the given kind with a formatted message.
func NewError(kind error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Code:    errorCodes[kind],
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// IsConflict reports whether err is a reservation conflict rather than a
// manifest problem.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNetworkReservationAlreadyInUse) ||
		errors.Is(err, ErrNetworkReservationError) ||
		errors.Is(err, ErrNetworkReservationNotEnoughCapacity)
}
